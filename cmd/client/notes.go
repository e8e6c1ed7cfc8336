package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"memo-sync/internal/domain"
)

var (
	noteTags  []string
	noteLinks []string
	listTag   string
	listJSON  bool
)

var addCmd = &cobra.Command{
	Use:   "add <content>",
	Short: "Create a note",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		ctx := context.Background()
		n, err := a.engine.CreateNote(ctx, strings.Join(args, " "), noteTags, noteLinks)
		if err != nil {
			return err
		}
		fmt.Println(n.ID)
		a.syncAfterWrite(ctx)
		return nil
	},
}

var editCmd = &cobra.Command{
	Use:   "edit <id> <content>",
	Short: "Replace the content of a note",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		var tags, links []string
		if cmd.Flags().Changed("tag") {
			tags = noteTags
		}
		if cmd.Flags().Changed("link") {
			links = noteLinks
		}

		ctx := context.Background()
		n, err := a.engine.UpdateNote(ctx, args[0], strings.Join(args[1:], " "), tags, links)
		if errors.Is(err, domain.ErrNoteNotFound) {
			return fmt.Errorf("no note %s", args[0])
		}
		if err != nil {
			return err
		}
		fmt.Printf("%s now at version %d\n", n.ID, n.Version)
		a.syncAfterWrite(ctx)
		return nil
	},
}

var rmCmd = &cobra.Command{
	Use:   "rm <id>",
	Short: "Delete a note",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		ctx := context.Background()
		if err := a.engine.DeleteNote(ctx, args[0]); err != nil {
			if errors.Is(err, domain.ErrNoteNotFound) {
				return fmt.Errorf("no note %s", args[0])
			}
			return err
		}
		a.syncAfterWrite(ctx)
		return nil
	},
}

var lsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List notes, newest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		notes, err := a.engine.Notes(context.Background())
		if err != nil {
			return err
		}
		if listTag != "" {
			notes = withTag(notes, listTag)
		}

		if listJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(notes)
		}

		for _, n := range notes {
			fmt.Printf("%s  %s  %-7s  %s\n", n.ID, n.CreatedAt.Local().Format("2006-01-02 15:04"), n.SyncStatus, firstLine(n.Content))
		}
		return nil
	},
}

var showCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Print a note with its links and backlinks",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		ctx := context.Background()
		n, err := a.engine.Note(ctx, args[0])
		if errors.Is(err, domain.ErrNoteNotFound) {
			return fmt.Errorf("no note %s", args[0])
		}
		if err != nil {
			return err
		}

		fmt.Printf("id:       %s\n", n.ID)
		fmt.Printf("version:  %d (%s)\n", n.Version, n.SyncStatus)
		fmt.Printf("created:  %s\n", n.CreatedAt.Local().Format(time.RFC3339))
		if n.LastEdited != nil {
			fmt.Printf("edited:   %s\n", n.LastEdited.Local().Format(time.RFC3339))
		}
		if len(n.Tags) > 0 {
			fmt.Printf("tags:     %s\n", strings.Join(n.Tags, ", "))
		}
		if len(n.Links) > 0 {
			fmt.Printf("links:    %s\n", strings.Join(n.Links, ", "))
		}

		all, err := a.engine.Notes(ctx)
		if err != nil {
			return err
		}
		if back := backlinks(all, n.ID); len(back) > 0 {
			fmt.Printf("linked from:\n")
			for _, b := range back {
				fmt.Printf("  %s  %s\n", b.ID, firstLine(b.Content))
			}
		}

		fmt.Printf("\n%s\n", n.Content)
		return nil
	},
}

func withTag(notes []*domain.Note, tag string) []*domain.Note {
	out := make([]*domain.Note, 0, len(notes))
	for _, n := range notes {
		for _, t := range n.Tags {
			if strings.EqualFold(t, tag) {
				out = append(out, n)
				break
			}
		}
	}
	return out
}

// backlinks returns the live notes that link to id.
func backlinks(notes []*domain.Note, id string) []*domain.Note {
	var out []*domain.Note
	for _, n := range notes {
		for _, l := range n.Links {
			if l == id {
				out = append(out, n)
				break
			}
		}
	}
	return out
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(s, "\n")
	if len(line) > 60 {
		return line[:57] + "..."
	}
	return line
}

func init() {
	for _, c := range []*cobra.Command{addCmd, editCmd} {
		c.Flags().StringSliceVarP(&noteTags, "tag", "t", nil, "Tag (repeatable)")
		c.Flags().StringSliceVarP(&noteLinks, "link", "l", nil, "Id of a linked note (repeatable)")
	}
	lsCmd.Flags().StringVarP(&listTag, "tag", "t", "", "Only notes carrying this tag")
	lsCmd.Flags().BoolVar(&listJSON, "json", false, "Print JSON")

	rootCmd.AddCommand(addCmd, editCmd, rmCmd, lsCmd, showCmd)
}
