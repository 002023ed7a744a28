package rocketchat

import (
	"context"
	"errors"
	"fmt"
)

// Destination selects how Send delivers a message.
type Destination string

const (
	// DestinationRoom posts to a room by id or channel name.
	DestinationRoom Destination = "rooms"
	// DestinationUser opens (or reuses) a direct room with a username first.
	DestinationUser Destination = "users"
	// DestinationLive writes into a live chat room as the visitor.
	DestinationLive Destination = "live"
	// DestinationBotReply answers in a room as the authenticated agent.
	DestinationBotReply Destination = "chatbot_response"
)

const (
	defaultCaption      = "User didn't set caption for this attachment"
	uploadFailedText    = "Upload failed."
	invalidFileTypeText = "Upload failed because of invalid file type."
)

// SendOptions describes one outbound message.
type SendOptions struct {
	Destination Destination
	// RoomID is the room id, or the username for DestinationUser. Live
	// messages and bot replies without a room id go to the visitor's first
	// open room.
	RoomID       string
	Text         string
	VisitorToken string
	Attachments  []Attachment
	Alias        string
	Emoji        string
	Avatar       string
	// DownloadHeaders are sent when fetching live attachments.
	DownloadHeaders map[string]string
}

// Send delivers a message and returns the id of the room it went to.
func (c *Client) Send(ctx context.Context, opts *SendOptions) (string, error) {
	if opts == nil {
		return "", fmt.Errorf("send options are required")
	}
	roomID := opts.RoomID

	switch opts.Destination {
	case DestinationRoom, "":
		if roomID == "" {
			return "", fmt.Errorf("roomId is required")
		}
		return roomID, c.post(ctx, roomID, opts)

	case DestinationUser:
		if roomID == "" {
			return "", fmt.Errorf("username is required")
		}
		res, err := c.IM.Create(ctx, roomID)
		if err != nil {
			return "", err
		}
		if err := res.Err(); err != nil {
			return "", fmt.Errorf("open direct room with %s: %w", roomID, err)
		}
		if res.Room == nil {
			return "", fmt.Errorf("open direct room with %s: no room returned", roomID)
		}
		return res.Room.ID, c.post(ctx, res.Room.ID, opts)

	case DestinationBotReply:
		if roomID == "" {
			if opts.VisitorToken == "" {
				return "", fmt.Errorf("roomId or visitor token is required")
			}
			var err error
			if roomID, err = c.visitorRoom(ctx, opts.VisitorToken); err != nil {
				return "", err
			}
		}
		return roomID, checked(c.Chat.SendMessage(ctx, roomID, opts.Text))

	case DestinationLive:
		if opts.VisitorToken == "" {
			return "", fmt.Errorf("visitor token is required")
		}
		if roomID == "" {
			var err error
			if roomID, err = c.visitorRoom(ctx, opts.VisitorToken); err != nil {
				return "", err
			}
		}
		return roomID, c.SendLive(ctx, opts.VisitorToken, roomID, opts.Text, opts.Attachments, opts.DownloadHeaders)

	default:
		return "", fmt.Errorf("invalid destination %q", opts.Destination)
	}
}

// visitorRoom resolves the first room open for a live chat visitor.
func (c *Client) visitorRoom(ctx context.Context, token string) (string, error) {
	rooms, err := c.LiveChat.VisitorRooms(ctx, token)
	if err != nil {
		return "", err
	}
	if err := rooms.Err(); err != nil {
		return "", err
	}
	if len(rooms.Rooms) == 0 {
		return "", fmt.Errorf("visitor has no open live chat room")
	}
	return rooms.Rooms[0].ID, nil
}

func (c *Client) post(ctx context.Context, roomID string, opts *SendOptions) error {
	return checked(c.Chat.PostMessage(ctx, &PostMessageOptions{
		RoomID:      roomID,
		Text:        opts.Text,
		Alias:       opts.Alias,
		Emoji:       opts.Emoji,
		Avatar:      opts.Avatar,
		Attachments: opts.Attachments,
	}))
}

// SendLive writes a message into a live chat room. Without attachments the
// text goes through the visitor endpoint. With attachments the text is sent
// first, then each attachment is downloaded and uploaded to the room; an
// upload that fails is replaced by a short notice in the room. Upload
// failures are returned joined after every attachment was tried.
func (c *Client) SendLive(ctx context.Context, token, roomID, text string, atts []Attachment, headers map[string]string) error {
	if len(atts) == 0 {
		return checked(c.LiveChat.SendMessage(ctx, token, roomID, text))
	}
	if err := checked(c.Chat.SendMessage(ctx, roomID, text)); err != nil {
		return err
	}

	var errs []error
	for _, a := range atts {
		caption := a.Caption
		if caption == "" {
			caption = defaultCaption
		}
		err := checked(c.Rooms.UploadFromURL(ctx, roomID, a.URL(), caption, headers))
		if err == nil {
			continue
		}
		errs = append(errs, err)

		notice := uploadFailedText
		if IsInvalidFileType(err) {
			notice = invalidFileTypeText
		}
		if err := checked(c.Chat.SendMessage(ctx, roomID, notice)); err != nil {
			errs = append(errs, fmt.Errorf("post upload notice: %w", err))
		}
	}
	return errors.Join(errs...)
}

// checked folds a transport error and an unsuccessful envelope into one error.
func checked(res interface{ Err() error }, err error) error {
	if err != nil {
		return err
	}
	return res.Err()
}
