package main

import (
	"bytes"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/suite"
)

// CommandTestSuite provides command execution helpers for cmd/ancsbridge tests.
type CommandTestSuite struct {
	suite.Suite
}

// ExecuteCommand runs a cobra command with args, returns output and error.
func (s *CommandTestSuite) ExecuteCommand(cmd *cobra.Command, args ...string) (string, error) {
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}
