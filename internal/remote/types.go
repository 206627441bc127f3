// Package remote is the HTTP client for the lives and WOOL authority, and
// the wire types both sides share.
package remote

// CollectResponse is the authority's answer to a signed collection request.
type CollectResponse struct {
	Accepted bool   `json:"accepted"`
	DayCount int    `json:"dayCount"`
	Total    int    `json:"total"`
	Capped   bool   `json:"capped"`
	Replayed bool   `json:"replayed,omitempty"`
	Error    string `json:"error,omitempty"`
}

// LedgerView mirrors GET /ledger.
type LedgerView struct {
	Address  string `json:"address"`
	Total    int    `json:"total"`
	Day      string `json:"day"`
	DayCount int    `json:"dayCount"`
	Cap      int    `json:"cap"`
}

// LivesView mirrors GET /lives.
type LivesView struct {
	Address string `json:"address"`
	ChainID int64  `json:"chainId"`
	Granted int    `json:"granted"`
}

// LeaderboardRow is one entry of GET /leaderboard.
type LeaderboardRow struct {
	Address string `json:"address"`
	Total   int    `json:"total"`
}

// Leaderboard mirrors GET /leaderboard.
type Leaderboard struct {
	OK   bool             `json:"ok"`
	Rows []LeaderboardRow `json:"rows"`
}

// GrantRequest is the body of POST /admin/lives.
type GrantRequest struct {
	Address string `json:"address"`
	ChainID int64  `json:"chainId"`
	TxID    string `json:"txId"`
}

// GrantResponse answers POST /admin/lives.
type GrantResponse struct {
	Granted int  `json:"granted"`
	Applied bool `json:"applied"`
}
