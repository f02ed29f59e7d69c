package v1

import (
	"testing"
	"time"
)

func TestEnvelopeValidate(t *testing.T) {
	t.Parallel()

	ts := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	cases := []struct {
		name    string
		env     Envelope
		wantErr bool
	}{
		{name: "snapshot", env: Envelope{V: Version, Type: TypeSnapshot, TS: ts}},
		{name: "history fetch", env: Envelope{V: Version, Type: TypeHistoryFetch}},
		{name: "missing version", env: Envelope{Type: TypeMessage}, wantErr: true},
		{name: "wrong version", env: Envelope{V: "v2", Type: TypeMessage}, wantErr: true},
		{name: "missing type", env: Envelope{V: Version}, wantErr: true},
		{name: "unknown type", env: Envelope{V: Version, Type: "message_send"}, wantErr: true},
	}
	for _, tc := range cases {
		err := tc.env.Validate()
		if (err != nil) != tc.wantErr {
			t.Fatalf("%s: err=%v wantErr=%v", tc.name, err, tc.wantErr)
		}
	}
}
