// Package protocol defines the typed message envelopes exchanged with game
// clients over the duplex connection.
package protocol

import "encoding/json"

// Inbound message types recognised by the dispatcher.
const (
	TypeLogin        = "Login"
	TypeRegister     = "Register"
	TypeLogout       = "Logout"
	TypeSearch       = "Search"
	TypeCancelSearch = "Cancel-Search"
)

// Outbound message types.
const (
	TypeError           = "Error"
	TypeWarning         = "Warning"
	TypeLoginSuccess    = "Login-Success"
	TypeGoodbye         = "Goodbye"
	TypeSearchAccepted  = "Search-Accepted"
	TypeSearchCancelled = "Search-Cancelled"
	TypeMatchFound      = "Match-Found"
	TypeStatus          = "Status"
)

// Inbound is one application message received from a client.
type Inbound struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// Outbound is one application message sent to a client. Terminal marks the
// message as ending the current request rather than being informational.
type Outbound struct {
	Type     string `json:"type"`
	Data     any    `json:"data,omitempty"`
	Terminal bool   `json:"terminal,omitempty"`
}

// LoginRequest carries credentials for either login path. Session and
// Email/Password are mutually exclusive; a non-empty Session always wins.
// Queue optionally carries a matchmaking request to run once authenticated.
type LoginRequest struct {
	Email    string         `json:"email,omitempty"`
	Password string         `json:"password,omitempty"`
	Session  string         `json:"session,omitempty"`
	Queue    *SearchRequest `json:"queue,omitempty"`
}

// RegisterRequest carries a new-account registration.
type RegisterRequest struct {
	AccessCode string `json:"accessCode"`
	Name       string `json:"name"`
	Email      string `json:"email"`
	Password   string `json:"password"`
}

// SearchRequest asks to be queued for a party of PartySize in GameID.
type SearchRequest struct {
	GameID    string `json:"gameId"`
	PartySize int    `json:"partySize"`
}

// Notice is the payload of Error, Warning, Goodbye and Search-Cancelled messages.
type Notice struct {
	Message string `json:"message"`
}

// LoginResult is the payload of a Login-Success message.
type LoginResult struct {
	Name      string `json:"name"`
	PlayerID  uint64 `json:"playerId"`
	Session   string `json:"session,omitempty"`
	Respawned bool   `json:"respawned,omitempty"`
}

// StatusNotice announces another player's status change.
type StatusNotice struct {
	PlayerID uint64 `json:"playerId"`
	Name     string `json:"name,omitempty"`
	Status   string `json:"status"`
}

// MatchFound announces a released matchmaking group.
type MatchFound struct {
	RoomID  string   `json:"roomId"`
	GameID  string   `json:"gameId"`
	Players []string `json:"players"`
}
