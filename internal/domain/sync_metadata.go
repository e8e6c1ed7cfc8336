package domain

// LastSyncKey is the metadata row holding the last successful reconciliation.
const LastSyncKey = "lastSync"

type ActivityData struct {
	Date  string `json:"date"`
	Count int    `json:"count"`
}

// Stats is the remote-side aggregate forwarded to whoever renders activity.
type Stats struct {
	ActivityData []ActivityData `json:"activityData"`
	TotalDays    int            `json:"totalDays"`
}

// NoteEvent is broadcast on the change feed after the remote accepts a push.
type NoteEvent struct {
	ID      string `json:"id"`
	Version int64  `json:"version"`
	Deleted int    `json:"deleted"`
}
