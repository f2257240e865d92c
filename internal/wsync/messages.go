// Package wsync keeps one object in sync with a remote authority over a
// websocket. A Sink sends the next pending revision (or a ping) on every
// tick, a Stream dispatches what the server sends back, and a Manager owns
// both loops and stops them together.
package wsync

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/marcus/revsync/internal/revision"
)

var (
	ErrMalformed = errors.New("malformed ws message")
	ErrStopped   = errors.New("ws sync stopped")
)

// ClientDataType tags client to server messages.
type ClientDataType string

const (
	ClientPushRev ClientDataType = "push"
	ClientPullRev ClientDataType = "pull"
	ClientAck     ClientDataType = "ack"
	ClientPing    ClientDataType = "ping"
)

// ClientRevisionWSData is a client to server message.
type ClientRevisionWSData struct {
	ObjectID  string              `json:"object_id"`
	Type      ClientDataType      `json:"type"`
	Revisions []revision.Revision `json:"revisions,omitempty"`
	Range     *revision.Range     `json:"range,omitempty"`
	RevID     int64               `json:"rev_id,omitempty"`
	DataID    string              `json:"data_id"`
}

// ID identifies the message for ack matching: the last revision id of a
// push, the rev id of a ping or ack.
func (d ClientRevisionWSData) ID() string { return d.DataID }

// FromRevisions wraps revs in a push message.
func FromRevisions(objectID string, revs []revision.Revision) ClientRevisionWSData {
	d := ClientRevisionWSData{ObjectID: objectID, Type: ClientPushRev, Revisions: revs}
	if n := len(revs); n > 0 {
		d.DataID = strconv.FormatInt(revs[n-1].RevID, 10)
	}
	return d
}

// Ping announces the client's current rev id.
func Ping(objectID string, revID int64) ClientRevisionWSData {
	return ClientRevisionWSData{ObjectID: objectID, Type: ClientPing, RevID: revID, DataID: strconv.FormatInt(revID, 10)}
}

// Pull asks the server for the revisions in r.
func Pull(objectID string, r revision.Range) ClientRevisionWSData {
	return ClientRevisionWSData{ObjectID: objectID, Type: ClientPullRev, Range: &r, DataID: r.String()}
}

// Ack confirms a revision the server pushed.
func Ack(objectID string, revID int64) ClientRevisionWSData {
	return ClientRevisionWSData{ObjectID: objectID, Type: ClientAck, RevID: revID, DataID: strconv.FormatInt(revID, 10)}
}

// DecodeClientData parses a client frame and checks its type.
func DecodeClientData(data []byte) (ClientRevisionWSData, error) {
	var d ClientRevisionWSData
	if err := json.Unmarshal(data, &d); err != nil {
		return d, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	switch d.Type {
	case ClientPushRev, ClientPing, ClientAck:
	case ClientPullRev:
		if d.Range == nil || !d.Range.Valid() {
			return d, fmt.Errorf("%w: pull without a valid range", ErrMalformed)
		}
	default:
		return d, fmt.Errorf("%w: unknown client type %q", ErrMalformed, d.Type)
	}
	return d, nil
}

// ServerDataType tags server to client messages.
type ServerDataType string

const (
	ServerPushRev ServerDataType = "server_push_rev"
	ServerPullRev ServerDataType = "server_pull_rev"
	ServerAck     ServerDataType = "server_ack"
	UserConnect   ServerDataType = "user_connect"
)

// ServerRevisionWSData is a server to client message. Data is decoded
// according to Type.
type ServerRevisionWSData struct {
	ObjectID string         `json:"object_id"`
	Type     ServerDataType `json:"type"`
	Data     []byte         `json:"data"`
}

// DecodeServerData parses a server frame.
func DecodeServerData(data []byte) (ServerRevisionWSData, error) {
	var d ServerRevisionWSData
	if err := json.Unmarshal(data, &d); err != nil {
		return d, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return d, nil
}

// RevID is the payload of ServerAck.
type RevID struct {
	Value int64 `json:"value"`
}

// NewDocumentUser is the payload of UserConnect.
type NewDocumentUser struct {
	UserID string `json:"user_id"`
	DocID  string `json:"doc_id"`
	RevID  int64  `json:"rev_id"`
}

func mustMarshal(v any) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("marshal %T: %v", v, err))
	}
	return data
}

// ServerPush carries revisions the client should merge.
func ServerPush(objectID string, revs []revision.Revision) ServerRevisionWSData {
	return ServerRevisionWSData{ObjectID: objectID, Type: ServerPushRev, Data: mustMarshal(revs)}
}

// ServerPull asks the client to resend the revisions in r.
func ServerPull(objectID string, r revision.Range) ServerRevisionWSData {
	return ServerRevisionWSData{ObjectID: objectID, Type: ServerPullRev, Data: mustMarshal(r)}
}

// ServerAckRev confirms a revision the client pushed.
func ServerAckRev(objectID string, revID int64) ServerRevisionWSData {
	return ServerRevisionWSData{ObjectID: objectID, Type: ServerAck, Data: mustMarshal(RevID{Value: revID})}
}

// ServerUserConnect announces a collaborator.
func ServerUserConnect(objectID string, u NewDocumentUser) ServerRevisionWSData {
	return ServerRevisionWSData{ObjectID: objectID, Type: UserConnect, Data: mustMarshal(u)}
}

// DecodeRange decodes a ServerPullRev payload.
func DecodeRange(data []byte) (revision.Range, error) {
	var r revision.Range
	if err := json.Unmarshal(data, &r); err != nil {
		return r, fmt.Errorf("%w: range: %v", ErrMalformed, err)
	}
	if !r.Valid() {
		return r, fmt.Errorf("%w: range %s", ErrMalformed, r)
	}
	return r, nil
}

// DecodeRevID decodes a ServerAck payload.
func DecodeRevID(data []byte) (int64, error) {
	var id RevID
	if err := json.Unmarshal(data, &id); err != nil {
		return 0, fmt.Errorf("%w: rev id: %v", ErrMalformed, err)
	}
	return id.Value, nil
}

// DecodeNewUser decodes a UserConnect payload.
func DecodeNewUser(data []byte) (NewDocumentUser, error) {
	var u NewDocumentUser
	if err := json.Unmarshal(data, &u); err != nil {
		return u, fmt.Errorf("%w: new user: %v", ErrMalformed, err)
	}
	return u, nil
}

// DecodeRevisions decodes a ServerPushRev payload.
func DecodeRevisions(data []byte) ([]revision.Revision, error) {
	var revs []revision.Revision
	if err := json.Unmarshal(data, &revs); err != nil {
		return nil, fmt.Errorf("%w: revisions: %v", ErrMalformed, err)
	}
	return revs, nil
}
