package testutils

import (
	"bytes"
	"testing"

	"github.com/sirupsen/logrus"
)

type TestHelper struct {
	T      *testing.T
	Logger *logrus.Logger
	Output *bytes.Buffer
}

// NewTestHelper creates a test helper whose logger writes to an in-memory buffer at debug
// level, so tests can assert on log output without polluting test results.
func NewTestHelper(t *testing.T) *TestHelper {
	out := &bytes.Buffer{}
	logger := logrus.New()
	logger.SetOutput(out)
	logger.SetLevel(logrus.DebugLevel)
	return &TestHelper{
		T:      t,
		Logger: logger,
		Output: out,
	}
}

func CreateMockAdvertisement(name, address string, rssi int) *AdvertisementBuilder {
	return NewAdvertisementBuilder().WithName(name).WithAddress(address).WithRSSI(rssi)
}
