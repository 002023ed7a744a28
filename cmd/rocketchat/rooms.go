package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	rocketchat "github.com/Prismer-AI/rocketchat-bridge"
)

// ============================================================================
// Flag variables
// ============================================================================

var (
	// create
	createMembers  string
	createReadOnly bool
	createEmail    string
	createDept     string
	createJSON     bool

	// close
	closeIdle time.Duration

	// custom-field
	customFieldOverwrite bool

	// upload
	uploadMessage     string
	uploadDescription string

	// spotlight
	spotlightJSON bool
)

// ============================================================================
// create
// ============================================================================

var createCmd = &cobra.Command{
	Use:   "create",
	Short: "Create rooms and live chat sessions",
}

func splitMembers(s string) []string {
	var out []string
	for _, m := range strings.Split(s, ",") {
		if m = strings.TrimSpace(m); m != "" {
			out = append(out, m)
		}
	}
	return out
}

var createChannelCmd = &cobra.Command{
	Use:   "channel <name>",
	Short: "Create a public channel",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := loadClient()
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		res, err := client.Channels.Create(ctx, &rocketchat.CreateRoomOptions{
			Name: args[0], Members: splitMembers(createMembers), ReadOnly: createReadOnly,
		})
		if err != nil {
			return apiError("create channel", err)
		}
		if err := res.Err(); err != nil {
			return apiError("create channel", err)
		}
		if createJSON || res.Channel == nil {
			return printJSON(res.Channel)
		}
		fmt.Printf("Channel created: %s (%s)\n", res.Channel.Name, res.Channel.ID)
		return nil
	},
}

var createGroupCmd = &cobra.Command{
	Use:   "group <name>",
	Short: "Create a private group",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := loadClient()
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		res, err := client.Groups.Create(ctx, &rocketchat.CreateRoomOptions{
			Name: args[0], Members: splitMembers(createMembers), ReadOnly: createReadOnly,
		})
		if err != nil {
			return apiError("create group", err)
		}
		if err := res.Err(); err != nil {
			return apiError("create group", err)
		}
		if createJSON || res.Group == nil {
			return printJSON(res.Group)
		}
		fmt.Printf("Group created: %s (%s)\n", res.Group.Name, res.Group.ID)
		return nil
	},
}

// createLiveCmd registers a visitor and opens their room, the way a
// website widget starts a conversation.
var createLiveCmd = &cobra.Command{
	Use:   "live <visitor-token> [name]",
	Short: "Register a live chat visitor and open a room for them",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		token := args[0]
		name := ""
		if len(args) == 2 {
			name = args[1]
		}
		client, err := loadClient()
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		cfgRes, err := client.LiveChat.Config(ctx, token)
		if err != nil {
			return apiError("live chat config", err)
		}
		if enabled, ok := cfgRes.Config["enabled"].(bool); ok && !enabled {
			return fmt.Errorf("live chat is disabled on this server")
		}

		visitor, err := client.LiveChat.RegisterVisitor(ctx, &rocketchat.VisitorOptions{
			Token: token, Name: name, Email: createEmail, Department: createDept,
		})
		if err != nil {
			return apiError("register visitor", err)
		}
		if err := visitor.Err(); err != nil {
			return apiError("register visitor", err)
		}
		room, err := client.LiveChat.Room(ctx, token)
		if err != nil {
			return apiError("open room", err)
		}
		if err := room.Err(); err != nil {
			return apiError("open room", err)
		}
		if createJSON || room.Room == nil {
			return printJSON(room.Room)
		}
		fmt.Printf("Live chat room opened: %s\n", room.Room.ID)
		if visitor.Visitor != nil {
			fmt.Printf("  Visitor: %s\n", valueOrDefault(visitor.Visitor.Name, token))
		}
		return nil
	},
}

// ============================================================================
// close
// ============================================================================

var closeCmd = &cobra.Command{
	Use:   "close",
	Short: "Close live chat rooms",
}

func printClosed(results []rocketchat.CloseRoomResult) {
	if len(results) == 0 {
		fmt.Println("No rooms closed.")
		return
	}
	for _, r := range results {
		if err := r.Err(); err != nil {
			fmt.Printf("  %s: %v\n", r.RoomID, err)
			continue
		}
		fmt.Printf("  %s: closed\n", r.RoomID)
	}
}

var closeLiveCmd = &cobra.Command{
	Use:   "live <visitor-token>",
	Short: "Close every room open for a visitor",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := loadClient()
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		results, err := client.LiveChat.CloseVisitorRooms(ctx, args[0])
		printClosed(results)
		if err != nil {
			return apiError("close", err)
		}
		return nil
	},
}

var closeLiveAllCmd = &cobra.Command{
	Use:   "live-all",
	Short: "Close every open live chat room idle for longer than --idle",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := loadClient()
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()

		results, err := client.LiveChat.CloseIdleRooms(ctx, closeIdle, time.Now())
		printClosed(results)
		if err != nil {
			return apiError("close", err)
		}
		return nil
	},
}

// ============================================================================
// custom-field
// ============================================================================

var customFieldCmd = &cobra.Command{
	Use:   "custom-field <visitor-token> <key=value>...",
	Short: "Set live chat custom fields on a visitor",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		token := args[0]
		client, err := loadClient()
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		failed := 0
		for _, kv := range args[1:] {
			key, value, ok := strings.Cut(kv, "=")
			if !ok || key == "" {
				fmt.Printf("  %s: expected key=value\n", kv)
				failed++
				continue
			}
			res, err := client.LiveChat.SetCustomField(ctx, &rocketchat.CustomFieldOptions{
				Token: token, Key: key, Value: value, Overwrite: customFieldOverwrite,
			})
			if err == nil {
				err = res.Err()
			}
			if err != nil {
				fmt.Printf("  %s: %v\n", key, err)
				failed++
				continue
			}
			fmt.Printf("  %s: ok\n", key)
		}
		if failed > 0 {
			return fmt.Errorf("%d of %d fields failed", failed, len(args)-1)
		}
		return nil
	},
}

// ============================================================================
// transfer
// ============================================================================

var transferCmd = &cobra.Command{
	Use:   "transfer <room-id> <visitor-token> <department>",
	Short: "Transfer a live chat room to another department",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := loadClient()
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		res, err := client.LiveChat.Transfer(ctx, &rocketchat.TransferOptions{
			RoomID: args[0], Token: args[1], Department: args[2],
		})
		if err == nil {
			err = res.Err()
		}
		if err != nil {
			return apiError("transfer", err)
		}
		fmt.Printf("Room %s transferred to %s\n", args[0], args[2])
		return nil
	},
}

// ============================================================================
// upload
// ============================================================================

var uploadCmd = &cobra.Command{
	Use:   "upload <room-id> <file-or-url>",
	Short: "Upload a file to a room",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		roomID, src := args[0], args[1]
		client, err := loadClient()
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()

		var res *rocketchat.MessageResult
		if strings.HasPrefix(src, "http://") || strings.HasPrefix(src, "https://") {
			res, err = client.Rooms.UploadFromURL(ctx, roomID, src, uploadMessage, nil)
		} else {
			res, err = client.Rooms.UploadFile(ctx, roomID, src, &rocketchat.UploadOptions{
				Message: uploadMessage, Description: uploadDescription,
			})
		}
		if err == nil {
			err = res.Err()
		}
		if err != nil {
			if rocketchat.IsInvalidFileType(err) {
				return fmt.Errorf("upload rejected: invalid file type")
			}
			return apiError("upload", err)
		}
		if res.Message != nil {
			fmt.Printf("Uploaded as message %s\n", res.Message.ID)
		} else {
			fmt.Println("Uploaded.")
		}
		return nil
	},
}

// ============================================================================
// spotlight
// ============================================================================

var spotlightCmd = &cobra.Command{
	Use:   "spotlight <query>",
	Short: "Search users and rooms",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := loadClient()
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		res, err := client.Users.Spotlight(ctx, args[0])
		if err == nil {
			err = res.Err()
		}
		if err != nil {
			return apiError("spotlight", err)
		}
		if spotlightJSON {
			return printJSON(res)
		}
		if len(res.Users) == 0 && len(res.Rooms) == 0 {
			fmt.Println("Nothing found.")
			return nil
		}
		for _, u := range res.Users {
			fmt.Printf("  user  %-24s %s\n", u.Username, u.ID)
		}
		for _, r := range res.Rooms {
			fmt.Printf("  room  %-24s %s (%s)\n", r.Name, r.ID, r.Type)
		}
		return nil
	},
}

// ============================================================================
// Registration
// ============================================================================

func init() {
	// create
	for _, c := range []*cobra.Command{createChannelCmd, createGroupCmd} {
		c.Flags().StringVar(&createMembers, "members", "", "Comma-separated usernames to add")
		c.Flags().BoolVar(&createReadOnly, "read-only", false, "Only admins may post")
	}
	createLiveCmd.Flags().StringVar(&createEmail, "email", "", "Visitor email")
	createLiveCmd.Flags().StringVar(&createDept, "department", "", "Department id to route the chat to")
	createCmd.PersistentFlags().BoolVar(&createJSON, "json", false, "Output raw JSON")
	createCmd.AddCommand(createChannelCmd, createGroupCmd, createLiveCmd)

	// close
	closeLiveAllCmd.Flags().DurationVar(&closeIdle, "idle", 0, "Minimum idle time since the last message, e.g. 30m")
	closeCmd.AddCommand(closeLiveCmd, closeLiveAllCmd)

	// custom-field
	customFieldCmd.Flags().BoolVar(&customFieldOverwrite, "overwrite", true, "Replace existing values")

	// upload
	uploadCmd.Flags().StringVarP(&uploadMessage, "message", "m", "", "Message posted with the file")
	uploadCmd.Flags().StringVar(&uploadDescription, "description", "", "File description")

	// spotlight
	spotlightCmd.Flags().BoolVar(&spotlightJSON, "json", false, "Output raw JSON")

	rootCmd.AddCommand(createCmd, closeCmd, customFieldCmd, transferCmd, uploadCmd, spotlightCmd)
}
