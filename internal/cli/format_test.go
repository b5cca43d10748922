package cli

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/require"

	"github.com/bft-labs/opstream/internal/cliconfig"
	"github.com/bft-labs/opstream/internal/domain"
)

func sampleOps() []domain.SequencedMessage {
	return []domain.SequencedMessage{
		{
			SequenceNumber: 1,
			Type:           domain.MessageTypeClientJoin,
			Contents:       json.RawMessage(`{"clientId":"alice"}`),
		},
		{
			ClientID:                "alice",
			SequenceNumber:          2,
			MinimumSequenceNumber:   1,
			ClientSequenceNumber:    1,
			ReferenceSequenceNumber: 1,
			Type:                    domain.MessageTypeOp,
			Contents:                json.RawMessage(`{"insert":"hello"}`),
		},
		{
			ClientID:                "alice",
			SequenceNumber:          3,
			MinimumSequenceNumber:   2,
			ClientSequenceNumber:    2,
			ReferenceSequenceNumber: 2,
			Type:                    domain.MessageTypeNoOp,
		},
	}
}

func TestFormatterGolden(t *testing.T) {
	for _, kind := range []string{cliconfig.OutputText, cliconfig.OutputJSON} {
		t.Run(kind, func(t *testing.T) {
			var buf bytes.Buffer
			f := newFormatter(kind, &buf)
			for _, msg := range sampleOps() {
				msg := msg
				require.NoError(t, f.Op(&msg))
			}
			require.NoError(t, f.Signal(domain.Signal{ClientID: "bob", Content: json.RawMessage(`{"cursor":4}`)}))

			g := goldie.New(t)
			g.Assert(t, "format_"+kind, buf.Bytes())
		})
	}
}

func TestUnknownFormatIsText(t *testing.T) {
	var buf bytes.Buffer
	f := newFormatter("", &buf)
	require.NoError(t, f.Signal(domain.Signal{}))
	require.Equal(t, "signal client=- content=-\n", buf.String())
}
