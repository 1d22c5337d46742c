package main

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"github.com/srg/ancsbridge/internal/protocol"
)

var decodeCmd = &cobra.Command{
	Use:   "decode",
	Short: "Decode captured ANCS and AMS payloads",
	Long: `Decodes payloads captured from a phone (for example with a BLE sniffer) without
connecting to anything. Payloads are hex, separators ' ', ':', '-' and '0x' are ignored.`,
}

var decodeEventCmd = &cobra.Command{
	Use:   "event <hex>",
	Short: "Decode a Notification Source record",
	Example: `  ancsbridge decode event 00030101 0a0b0c0d --title-max 64
  ancsbridge decode event 02000101 0a0b0c0d`,
	Args: cobra.MinimumNArgs(1),
	RunE: runDecodeEvent,
}

var decodeDataCmd = &cobra.Command{
	Use:   "data <hex>...",
	Short: "Reassemble Data Source packets into a notification",
	Long: `Reassembles the Data Source packets answering one Get Notification Attributes
request. Each argument is one packet. --flags and --category come from the Notification
Source record that announced the notification; the flags decide which action labels
were requested.`,
	Example: `  ancsbridge decode data 000a0b0c0d 000300616263 0102004869 030000 --flags 0`,
	Args:    cobra.MinimumNArgs(1),
	RunE:    runDecodeData,
}

var decodeMediaCmd = &cobra.Command{
	Use:     "media <hex>",
	Short:   "Decode an Entity Update payload",
	Example: `  ancsbridge decode media 0202004e6f7468696e67`,
	Args:    cobra.MinimumNArgs(1),
	RunE:    runDecodeMedia,
}

var (
	decodeFlags      uint8
	decodeCategory   uint8
	decodeTitleMax   uint16
	decodeMessageMax uint16
)

func init() {
	decodeEventCmd.Flags().Uint16Var(&decodeTitleMax, "title-max", 0xffff, "Title length limit used in the attribute request")
	decodeEventCmd.Flags().Uint16Var(&decodeMessageMax, "message-max", 0xffff, "Message length limit used in the attribute request")

	decodeDataCmd.Flags().Uint8Var(&decodeFlags, "flags", 0, "Event flags of the announcing record")
	decodeDataCmd.Flags().Uint8Var(&decodeCategory, "category", 0, "Category of the announcing record")

	decodeCmd.AddCommand(decodeEventCmd)
	decodeCmd.AddCommand(decodeDataCmd)
	decodeCmd.AddCommand(decodeMediaCmd)
}

// decodedEvent is the printable form of a Notification Source record.
type decodedEvent struct {
	UID            string `json:"uid"`
	Event          string `json:"event"`
	Flags          byte   `json:"flags"`
	Category       byte   `json:"category"`
	CategoryCount  byte   `json:"category_count"`
	PositiveAction bool   `json:"positive_action"`
	NegativeAction bool   `json:"negative_action"`
	CallEnded      bool   `json:"call_ended,omitempty"`
	Request        string `json:"request,omitempty"`
}

// decodedNotification adds the identifier NotificationData keeps out of its JSON.
type decodedNotification struct {
	ID string `json:"id"`
	protocol.NotificationData
}

// parseHex converts a hex argument to bytes.
func parseHex(s string) ([]byte, error) {
	cleaned := strings.ReplaceAll(s, " ", "")
	cleaned = strings.ReplaceAll(cleaned, ":", "")
	cleaned = strings.ReplaceAll(cleaned, "-", "")
	cleaned = strings.ReplaceAll(cleaned, "0x", "")

	data, err := hex.DecodeString(cleaned)
	if err != nil {
		return nil, fmt.Errorf("invalid hex data: %w", err)
	}
	return data, nil
}

func runDecodeEvent(cmd *cobra.Command, args []string) error {
	packet, err := parseHex(strings.Join(args, ""))
	if err != nil {
		return err
	}
	ev, err := protocol.DecodeEvent(packet)
	if err != nil {
		return err
	}

	out := decodedEvent{
		UID:            ev.UID.String(),
		Event:          ev.ID.String(),
		Flags:          byte(ev.Flags),
		Category:       byte(ev.Category),
		CategoryCount:  ev.CategoryCount,
		PositiveAction: ev.Flags.HasPositiveAction(),
		NegativeAction: ev.Flags.HasNegativeAction(),
		CallEnded:      ev.IsCallEnded(),
	}
	switch ev.ID {
	case protocol.EventNotificationAdded, protocol.EventNotificationModified:
		out.Request = hex.EncodeToString(protocol.GetNotificationAttributes(ev.Pending(), decodeTitleMax, decodeMessageMax))
	}
	return writeJSON(cmd.OutOrStdout(), out)
}

func runDecodeData(cmd *cobra.Command, args []string) error {
	packets := make([][]byte, 0, len(args))
	for _, arg := range args {
		p, err := parseHex(arg)
		if err != nil {
			return err
		}
		packets = append(packets, p)
	}

	uid, ok := protocol.StreamUID(packets[0])
	if !ok {
		return fmt.Errorf("first packet: %w", protocol.ErrShortPacket)
	}
	pending := &protocol.PendingNotification{
		UID:        uid,
		EventID:    protocol.EventNotificationAdded,
		Flags:      protocol.EventFlags(decodeFlags),
		CategoryID: protocol.CategoryID(decodeCategory),
	}

	r := protocol.NewReassembler(pending, protocol.DefaultReassemblyBufferSize)
	for _, p := range packets {
		if err := r.Process(p); err != nil {
			return err
		}
	}
	if !r.Finished() {
		return fmt.Errorf("%w: %d packets did not carry every requested attribute", ErrIncompleteStream, len(packets))
	}

	data := r.Result()
	return writeJSON(cmd.OutOrStdout(), decodedNotification{ID: data.ID(), NotificationData: *data})
}

func runDecodeMedia(cmd *cobra.Command, args []string) error {
	packet, err := parseHex(strings.Join(args, ""))
	if err != nil {
		return err
	}
	update, err := protocol.DecodeMediaUpdate(packet)
	if err != nil {
		return err
	}
	return writeJSON(cmd.OutOrStdout(), update)
}

func writeJSON(w io.Writer, v any) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}
