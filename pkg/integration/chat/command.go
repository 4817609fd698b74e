// Package chat holds what the chat bots share: command parsing, replies
// rendered from the shell and the reminder push.
package chat

import (
	"context"
	"fmt"
	"strings"

	"github.com/mklimuk/crm-pilot/pkg/gateway"
	"github.com/mklimuk/crm-pilot/pkg/reminder"
	"github.com/mklimuk/crm-pilot/pkg/search"
	"github.com/mklimuk/crm-pilot/pkg/shell"
)

// Command names.
const (
	CommandReminders = "reminders"
	CommandSearch    = "search"
	CommandDone      = "done"
	CommandHelp      = "help"
)

// Command is a parsed chat command.
type Command struct {
	Name string
	Arg  string
}

// Parse reads a command introduced by prefix, e.g. "/search acme". A bot
// mention suffix ("/reminders@crm_bot") is dropped. ok is false for plain text.
func Parse(prefix, text string) (cmd Command, ok bool) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, prefix) {
		return Command{}, false
	}
	name, arg, _ := strings.Cut(text[len(prefix):], " ")
	if at := strings.IndexByte(name, '@'); at >= 0 {
		name = name[:at]
	}
	name = strings.ToLower(name)
	switch name {
	case CommandReminders, CommandSearch, CommandDone, CommandHelp:
		return Command{Name: name, Arg: strings.TrimSpace(arg)}, true
	}
	return Command{}, false
}

// Responder answers commands on behalf of the shell's session.
type Responder struct {
	Shell  *shell.Shell
	Prefix string
}

// Reply runs cmd and renders the answer.
func (r *Responder) Reply(ctx context.Context, cmd Command) string {
	if cmd.Name == CommandHelp {
		return r.help()
	}
	sess := r.Shell.Session()
	if !sess.Active() {
		return "Not signed in."
	}

	switch cmd.Name {
	case CommandReminders:
		sum, err := r.Shell.Reminders().Refresh(ctx, sess)
		if err != nil && sum.RefreshedAt.IsZero() {
			return "Reminders are unavailable: " + gateway.Message(err)
		}
		return FormatSummary(sum)
	case CommandSearch:
		if !search.Valid(cmd.Arg) {
			return fmt.Sprintf("Type at least %d characters to search.", search.MinQueryLength)
		}
		return FormatResults(r.Shell.Searcher().Search(ctx, sess, cmd.Arg))
	case CommandDone:
		if cmd.Arg == "" {
			return fmt.Sprintf("Usage: %sdone <id>", r.Prefix)
		}
		if _, err := r.Shell.Reminders().Complete(ctx, sess, cmd.Arg); err != nil {
			return "Could not complete the reminder: " + gateway.Message(err)
		}
		return "Marked as done."
	}
	return r.help()
}

func (r *Responder) help() string {
	p := r.Prefix
	return fmt.Sprintf("%sreminders - reminders needing attention\n%ssearch <text> - search the CRM\n%sdone <id> - complete a reminder", p, p, p)
}

// FormatSummary renders the reminders needing attention.
func FormatSummary(sum reminder.Summary) string {
	if sum.Attention() == 0 {
		return "No reminders need attention."
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "%d reminder(s) need attention", sum.Attention())
	if len(sum.Urgent) > 0 {
		sb.WriteString("\n\nOverdue and today:")
		writeEntries(&sb, sum.Urgent)
	}
	if len(sum.Soon) > 0 {
		sb.WriteString("\n\nComing up:")
		writeEntries(&sb, sum.Soon)
	}
	return sb.String()
}

func writeEntries(sb *strings.Builder, entries []reminder.Entry) {
	for _, e := range entries {
		sb.WriteString("\n- ")
		sb.WriteString(e.Date)
		if e.Time != "" {
			sb.WriteString(" ")
			sb.WriteString(e.Time)
		}
		sb.WriteString(" ")
		sb.WriteString(e.Title)
		if e.LeadName != "" {
			sb.WriteString(" (")
			sb.WriteString(e.LeadName)
			sb.WriteString(")")
		}
		if e.Status == reminder.StatusOverdue {
			sb.WriteString(" [overdue]")
		}
		sb.WriteString(" #")
		sb.WriteString(e.ID)
	}
}

// FormatResults renders search results grouped by type.
func FormatResults(res search.Results) string {
	if res.Empty() {
		return fmt.Sprintf("Nothing found for %q.", res.Query)
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "Results for %q:", res.Query)
	for _, g := range res.Groups {
		fmt.Fprintf(&sb, "\n\n%s:", g.Type)
		for _, it := range g.Items {
			sb.WriteString("\n- ")
			sb.WriteString(it.Title)
			if it.Subtitle != "" {
				sb.WriteString(" - ")
				sb.WriteString(it.Subtitle)
			}
			switch it.Action.Kind {
			case search.ActionExternal:
				sb.WriteString(" ")
				sb.WriteString(it.Action.URL)
			default:
				sb.WriteString(" ")
				sb.WriteString(it.Action.Path)
			}
		}
	}
	return sb.String()
}
