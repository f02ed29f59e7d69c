// Package v1 defines the subset of the Jetstream firehose wire format and the blip record
// schema that thoughtstream consumes and produces.
//
// Only the fields the feed pipeline reads are modeled; unknown fields are ignored on decode.
package v1

import (
	"encoding/json"
	"net/url"
	"time"
)

// Wire-stable constants.
const (
	// BlipCollection is the NSID of the record type carried by the feed and written by Publish.
	BlipCollection = "stream.thought.blip"

	KindCommit   = "commit"
	KindIdentity = "identity"
	KindAccount  = "account"

	OperationCreate = "create"
	OperationUpdate = "update"
	OperationDelete = "delete"

	// DefaultEndpoint is the public Jetstream subscribe endpoint.
	DefaultEndpoint = "wss://jetstream2.us-west.bsky.network/subscribe"
)

// Event is one frame delivered by the firehose.
type Event struct {
	DID    string  `json:"did"`
	TimeUS int64   `json:"time_us,omitempty"`
	Kind   string  `json:"kind"`
	Commit *Commit `json:"commit,omitempty"`
}

// Commit is a single repository change carried by a commit event.
type Commit struct {
	Rev        string      `json:"rev,omitempty"`
	Operation  string      `json:"operation"`
	Collection string      `json:"collection"`
	RKey       string      `json:"rkey,omitempty"`
	Record     *BlipRecord `json:"record,omitempty"`
	CID        string      `json:"cid,omitempty"`
}

// BlipRecord is the stream.thought.blip record body.
type BlipRecord struct {
	Type      string `json:"$type,omitempty"`
	Content   string `json:"content"`
	CreatedAt string `json:"createdAt,omitempty"`
}

// NewBlipRecord builds the record written by the publish path.
func NewBlipRecord(content string, now time.Time) BlipRecord {
	return BlipRecord{
		Type:      BlipCollection,
		Content:   content,
		CreatedAt: now.UTC().Format(time.RFC3339Nano),
	}
}

// Decode parses a raw frame.
func Decode(data []byte) (Event, error) {
	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return Event{}, err
	}
	return ev, nil
}

// SubscribeURL builds the subscribe URL filtered to the given collections.
func SubscribeURL(endpoint string, collections ...string) (string, error) {
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", err
	}
	q := u.Query()
	for _, c := range collections {
		if c != "" {
			q.Add("wantedCollections", c)
		}
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}
