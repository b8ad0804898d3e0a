package main

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/llm-x/llmx/pkg/chat"
)

func newExportCommand() *cobra.Command {
	var includeImages bool
	var outputDir string

	cmd := &cobra.Command{
		Use:   "export <chat-id>",
		Short: "Export a chat to a JSON file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			id, err := chat.ParseNodeID(args[0])
			if err != nil {
				return errors.Wrapf(err, "invalid chat id %q", args[0])
			}

			db, _, err := openStore()
			if err != nil {
				return err
			}
			defer func() {
				_ = db.Close()
			}()

			records, err := db.Chats().FindByIDs(ctx, []chat.NodeID{id})
			if err != nil {
				return err
			}
			if len(records) == 0 {
				return errors.Errorf("chat %s not found", id)
			}

			path, err := db.WriteChatExport(ctx, records[0], outputDir, chat.ExportOptions{
				IncludeImages: includeImages,
			})
			if err != nil {
				return err
			}

			fmt.Println(path)
			return nil
		},
	}

	cmd.Flags().BoolVar(&includeImages, "include-images", false, "Inline image attachments as data URLs")
	cmd.Flags().StringVarP(&outputDir, "output", "o", ".", "Output directory")

	return cmd
}
