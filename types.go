package rocketchat

import (
	"encoding/json"
	"strings"
)

// ============================================================================
// Shared Types
// ============================================================================

// APIError represents a Rocket.Chat error body.
type APIError struct {
	Code    string `json:"errorType"`
	Message string `json:"error"`
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return e.Message
	}
	return e.Code + ": " + e.Message
}

// Result is the envelope every REST response carries.
type Result struct {
	Success   bool   `json:"success"`
	ErrorText string `json:"error,omitempty"`
	ErrorType string `json:"errorType,omitempty"`
	// Authentication failures use a different shape.
	Status  string `json:"status,omitempty"`
	Message string `json:"message,omitempty"`
}

// Err returns nil when the call succeeded and an *APIError otherwise.
func (r *Result) Err() error {
	if r.Success {
		return nil
	}
	msg := r.ErrorText
	if msg == "" {
		msg = r.Message
	}
	if msg == "" {
		msg = "request was not successful"
	}
	return &APIError{Code: r.ErrorType, Message: msg}
}

// ============================================================================
// Chat Types
// ============================================================================

// User is the abbreviated user document embedded in messages.
type User struct {
	ID       string `json:"_id"`
	Username string `json:"username,omitempty"`
	Name     string `json:"name,omitempty"`
}

// Attachment is a message attachment.
type Attachment struct {
	Title    string `json:"title,omitempty"`
	Text     string `json:"text,omitempty"`
	Caption  string `json:"caption,omitempty"`
	ImageURL string `json:"image_url,omitempty"`
	AudioURL string `json:"audio_url,omitempty"`
	VideoURL string `json:"video_url,omitempty"`
	FileURL  string `json:"file_url,omitempty"`
}

// URL returns the first media URL set on the attachment.
func (a Attachment) URL() string {
	for _, u := range []string{a.VideoURL, a.AudioURL, a.ImageURL, a.FileURL} {
		if u != "" {
			return u
		}
	}
	return ""
}

// Message is a chat message. Raw keeps the document exactly as received so
// fields this package does not model survive republishing.
type Message struct {
	ID          string       `json:"_id"`
	RoomID      string       `json:"rid"`
	Text        string       `json:"msg"`
	Type        string       `json:"t,omitempty"`
	Token       string       `json:"token,omitempty"`
	User        User         `json:"u"`
	Timestamp   Time         `json:"ts"`
	Attachments []Attachment `json:"attachments,omitempty"`

	Raw json.RawMessage `json:"-"`
}

// MessageTypeLiveChatClose marks the system message posted when a live chat ends.
const MessageTypeLiveChatClose = "livechat-close"

func (m *Message) UnmarshalJSON(data []byte) error {
	type plain Message
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*m = Message(p)
	m.Raw = append(json.RawMessage(nil), data...)
	return nil
}

func (m Message) MarshalJSON() ([]byte, error) {
	if len(m.Raw) > 0 {
		return m.Raw, nil
	}
	type plain Message
	return json.Marshal(plain(m))
}

// Subscription is the per-user view of a room.
type Subscription struct {
	ID       string `json:"_id"`
	RoomID   string `json:"rid"`
	Name     string `json:"name,omitempty"`
	Type     string `json:"t"`
	Unread   int    `json:"unread"`
	LastSeen Time   `json:"ls"`
	Open     bool   `json:"open"`
}

// Room type codes.
const (
	RoomTypeDirect  = "d"
	RoomTypeGroup   = "p"
	RoomTypeChannel = "c"
	RoomTypeLive    = "l"
)

// Visitor is a live chat visitor.
type Visitor struct {
	ID         string `json:"_id,omitempty"`
	Token      string `json:"token"`
	Name       string `json:"name,omitempty"`
	Username   string `json:"username,omitempty"`
	Department string `json:"department,omitempty"`
}

// Room is a room document.
type Room struct {
	ID            string   `json:"_id"`
	Name          string   `json:"name,omitempty"`
	Type          string   `json:"t"`
	Open          bool     `json:"open,omitempty"`
	LastMessageAt Time     `json:"lm"`
	Visitor       *Visitor `json:"v,omitempty"`
}

// ============================================================================
// Options
// ============================================================================

type PostMessageOptions struct {
	RoomID      string       `json:"roomId,omitempty"`
	Channel     string       `json:"channel,omitempty"`
	Text        string       `json:"text,omitempty"`
	Alias       string       `json:"alias,omitempty"`
	Emoji       string       `json:"emoji,omitempty"`
	Avatar      string       `json:"avatar,omitempty"`
	Attachments []Attachment `json:"attachments,omitempty"`
}

type CreateRoomOptions struct {
	Name     string   `json:"name"`
	Members  []string `json:"members,omitempty"`
	ReadOnly bool     `json:"readOnly"`
}

type VisitorOptions struct {
	Name       string `json:"name,omitempty"`
	Email      string `json:"email,omitempty"`
	Token      string `json:"token"`
	Department string `json:"department,omitempty"`
}

type CustomFieldOptions struct {
	Token     string `json:"token"`
	Key       string `json:"key"`
	Value     string `json:"value"`
	Overwrite bool   `json:"overwrite"`
}

type TransferOptions struct {
	RoomID     string `json:"rid"`
	Token      string `json:"token"`
	Department string `json:"department"`
}

// UploadOptions configures a file upload. FileName is required for byte uploads.
type UploadOptions struct {
	FileName    string
	MimeType    string
	Message     string
	Description string
}

// ============================================================================
// Results
// ============================================================================

type SubscriptionsResult struct {
	Result
	Update []Subscription `json:"update"`
	Remove []Subscription `json:"remove"`
}

type SubscriptionResult struct {
	Result
	Subscription *Subscription `json:"subscription"`
}

type HistoryResult struct {
	Result
	Messages []Message `json:"messages"`
}

type RoomsResult struct {
	Result
	Rooms []Room `json:"rooms"`
}

// Contains reports whether a room with the given id is in the list.
func (r *RoomsResult) Contains(roomID string) bool {
	for _, room := range r.Rooms {
		if room.ID == roomID {
			return true
		}
	}
	return false
}

type ChannelResult struct {
	Result
	Channel *Room `json:"channel"`
}

type GroupResult struct {
	Result
	Group *Room `json:"group"`
}

type RoomResult struct {
	Result
	Room *Room `json:"room"`
}

type MessageResult struct {
	Result
	Message *Message `json:"message"`
}

type SpotlightResult struct {
	Result
	Users []User `json:"users"`
	Rooms []Room `json:"rooms"`
}

type MeResult struct {
	Result
	ID       string   `json:"_id"`
	Username string   `json:"username"`
	Name     string   `json:"name"`
	Status   string   `json:"status"`
	Roles    []string `json:"roles"`
}

type LiveChatConfigResult struct {
	Result
	Config map[string]any `json:"config"`
}

type VisitorResult struct {
	Result
	Visitor *Visitor `json:"visitor"`
}

type CustomFieldResult struct {
	Result
	Field map[string]any `json:"field"`
}

// CloseRoomResult reports the outcome of closing one live chat room.
type CloseRoomResult struct {
	RoomID string `json:"rid"`
	Result
}

// historyEndpoint maps a room type code to the REST family serving its history.
func historyEndpoint(roomType string) string {
	switch strings.ToLower(roomType) {
	case RoomTypeGroup, "g":
		return "groups"
	case RoomTypeDirect:
		return "im"
	default:
		return "channels"
	}
}
