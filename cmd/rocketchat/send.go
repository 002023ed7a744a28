package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	rocketchat "github.com/Prismer-AI/rocketchat-bridge"
)

var (
	sendDestination  string
	sendVisitorToken string
	sendAttachments  string
	sendHeaders      string
	sendAlias        string
	sendEmoji        string
	sendAvatar       string
)

func init() {
	f := sendCmd.Flags()
	f.StringVarP(&sendDestination, "to", "t", string(rocketchat.DestinationRoom), "Destination: rooms, users, live or chatbot_response")
	f.StringVar(&sendVisitorToken, "visitor-token", "", "Visitor token (live, chatbot_response)")
	f.StringVar(&sendAttachments, "attachments", "", "JSON array of attachments")
	f.StringVar(&sendHeaders, "attachment-headers", "", "JSON object of headers used to download live attachments")
	f.StringVar(&sendAlias, "alias", "", "Display name override (rooms, users)")
	f.StringVar(&sendEmoji, "emoji", "", "Avatar emoji (rooms, users)")
	f.StringVar(&sendAvatar, "avatar", "", "Avatar URL (rooms, users)")
	rootCmd.AddCommand(sendCmd)
}

var sendCmd = &cobra.Command{
	Use:   "send [room-id|username] <text>",
	Short: "Send a message",
	Long: "Send a message to a room, a user, or a live chat.\n" +
		"For live chats the room id may be omitted; the visitor's open room is used.",
	Args: cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := &rocketchat.SendOptions{
			Destination:  rocketchat.Destination(sendDestination),
			VisitorToken: sendVisitorToken,
			Alias:        sendAlias,
			Emoji:        sendEmoji,
			Avatar:       sendAvatar,
		}
		if len(args) == 2 {
			opts.RoomID, opts.Text = args[0], args[1]
		} else {
			opts.Text = args[0]
		}
		if sendAttachments != "" {
			if err := json.Unmarshal([]byte(sendAttachments), &opts.Attachments); err != nil {
				return fmt.Errorf("invalid --attachments: %w", err)
			}
		}
		if sendHeaders != "" {
			// Bad header JSON is ignored rather than failing the send.
			_ = json.Unmarshal([]byte(sendHeaders), &opts.DownloadHeaders)
		}

		client, err := loadClient()
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()

		roomID, err := client.Send(ctx, opts)
		if err != nil {
			if rocketchat.IsInvalidFileType(err) {
				fmt.Println("Message sent; some attachments were rejected (invalid file type).")
			}
			return apiError("send", err)
		}
		fmt.Printf("Message sent to %s\n", roomID)
		return nil
	},
}
