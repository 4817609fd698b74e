package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/mklimuk/crm-pilot/pkg/integration/chat"
	"github.com/mklimuk/crm-pilot/pkg/search"
)

func runReminders(ctx context.Context, out io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	sess, err := a.signIn(ctx, true)
	if err != nil {
		return err
	}
	sum, err := a.shell.Reminders().Refresh(ctx, sess)
	if err != nil {
		return fmt.Errorf("failed to load reminders: %w", err)
	}
	if jsonFlag {
		return writeJSON(out, sum)
	}
	_, err = fmt.Fprintln(out, chat.FormatSummary(sum))
	return err
}

func runSearch(ctx context.Context, out io.Writer, args []string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	query := strings.Join(args, " ")
	if !search.Valid(query) {
		return fmt.Errorf("query must be at least %d characters", search.MinQueryLength)
	}
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	sess, err := a.signIn(ctx, true)
	if err != nil {
		return err
	}
	res := a.shell.Searcher().Search(ctx, sess, query)
	if jsonFlag {
		return writeJSON(out, res)
	}
	_, err = fmt.Fprintln(out, chat.FormatResults(res))
	return err
}

func writeJSON(out io.Writer, v interface{}) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
