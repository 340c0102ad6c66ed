package chat

// ChatIndexKey is the store key holding the JSON array of every chat id seen.
const ChatIndexKey = "all-chat-ids"

// State describes how far wallet provisioning has progressed for a chat.
type State string

const (
	StateUninitialized State = "UNINITIALIZED"
	StateHasAppID      State = "HAS_APP_ID"
	StateHasWallet     State = "HAS_WALLET"
)

// Session is the durable per-chat record. JSON names match the records the
// first version of the bot wrote to Redis.
type Session struct {
	ChatID         string          `json:"chatId"`
	VaultAppID     string          `json:"nillionId,omitempty"`
	WalletAddress  string          `json:"walletAddress,omitempty"`
	Basename       string          `json:"basename,omitempty"`
	Completed      bool            `json:"completedData,omitempty"`
	BookingRequest *BookingRequest `json:"requestData,omitempty"`
}

// NewSession returns an empty record bound to chatID.
func NewSession(chatID string) Session {
	return Session{ChatID: chatID}
}

// State derives the provisioning state from the record.
func (s Session) State() State {
	switch {
	case s.VaultAppID != "" && s.WalletAddress != "":
		return StateHasWallet
	case s.VaultAppID != "":
		return StateHasAppID
	default:
		return StateUninitialized
	}
}

// BookingRequest is the booking intent captured for a chat. The bot passes it
// through without interpreting it.
type BookingRequest struct {
	Location        string   `json:"location,omitempty"`
	StartDate       int64    `json:"startDate,omitempty"`
	EndDate         int64    `json:"endDate,omitempty"`
	GuestCount      int      `json:"numberOfGuests,omitempty"`
	RoomCount       int      `json:"numberOfRooms,omitempty"`
	Features        []string `json:"features,omitempty"`
	BudgetPerPerson float64  `json:"budgetPerPerson,omitempty"`
	Currency        string   `json:"currency,omitempty"`
}

// Normalize removes duplicate features while keeping their first-seen order.
func (b *BookingRequest) Normalize() {
	if b == nil || len(b.Features) == 0 {
		return
	}
	seen := make(map[string]struct{}, len(b.Features))
	out := b.Features[:0]
	for _, f := range b.Features {
		if f == "" {
			continue
		}
		if _, dup := seen[f]; dup {
			continue
		}
		seen[f] = struct{}{}
		out = append(out, f)
	}
	b.Features = out
}
