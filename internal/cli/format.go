package cli

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/bft-labs/opstream/internal/cliconfig"
	"github.com/bft-labs/opstream/internal/domain"
)

// formatter writes one line per op or signal.
type formatter interface {
	Op(msg *domain.SequencedMessage) error
	Signal(sig domain.Signal) error
}

func newFormatter(kind string, w io.Writer) formatter {
	if kind == cliconfig.OutputJSON {
		return &jsonFormatter{enc: json.NewEncoder(w)}
	}
	return &textFormatter{w: w}
}

type textFormatter struct {
	w io.Writer
}

func (f *textFormatter) Op(msg *domain.SequencedMessage) error {
	_, err := fmt.Fprintf(f.w, "seq=%d msn=%d type=%s client=%s csn=%d rsn=%d contents=%s\n",
		msg.SequenceNumber,
		msg.MinimumSequenceNumber,
		msg.Type,
		orDash(msg.ClientID),
		msg.ClientSequenceNumber,
		msg.ReferenceSequenceNumber,
		orDash(string(msg.Contents)),
	)
	return err
}

func (f *textFormatter) Signal(sig domain.Signal) error {
	_, err := fmt.Fprintf(f.w, "signal client=%s content=%s\n", orDash(sig.ClientID), orDash(string(sig.Content)))
	return err
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

type jsonFormatter struct {
	enc *json.Encoder
}

type opLine struct {
	Kind                    string             `json:"kind"`
	SequenceNumber          int64              `json:"seq,omitempty"`
	MinimumSequenceNumber   int64              `json:"msn,omitempty"`
	Type                    domain.MessageType `json:"type,omitempty"`
	ClientID                string             `json:"client,omitempty"`
	ClientSequenceNumber    int64              `json:"csn,omitempty"`
	ReferenceSequenceNumber int64              `json:"rsn,omitempty"`
	Contents                json.RawMessage    `json:"contents,omitempty"`
}

func (f *jsonFormatter) Op(msg *domain.SequencedMessage) error {
	return f.enc.Encode(opLine{
		Kind:                    "op",
		SequenceNumber:          msg.SequenceNumber,
		MinimumSequenceNumber:   msg.MinimumSequenceNumber,
		Type:                    msg.Type,
		ClientID:                msg.ClientID,
		ClientSequenceNumber:    msg.ClientSequenceNumber,
		ReferenceSequenceNumber: msg.ReferenceSequenceNumber,
		Contents:                msg.Contents,
	})
}

func (f *jsonFormatter) Signal(sig domain.Signal) error {
	return f.enc.Encode(opLine{Kind: "signal", ClientID: sig.ClientID, Contents: sig.Content})
}
