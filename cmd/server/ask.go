package main

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	"github.com/spf13/cobra"

	"persona-chat/internal/assistant"
	"persona-chat/internal/models"
)

var (
	askUser    string // acting user id
	askPersona string // persona id
)

var askCmd = &cobra.Command{
	Use:   "ask [message]",
	Short: "Send one message to a persona and stream the reply",
	Long: `Saves the message to the persona's history, streams the reply to stdout and saves
the reply as well. Uses the same database and AI settings as the server.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runAsk,
}

func init() {
	askCmd.Flags().StringVarP(&askUser, "user", "u", "", "Acting user id")
	askCmd.Flags().StringVarP(&askPersona, "persona", "p", "", "Persona id")
	_ = askCmd.MarkFlagRequired("user")
	_ = askCmd.MarkFlagRequired("persona")
}

func runAsk(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	persona, err := a.db.GetPersona(ctx, askPersona)
	if err != nil {
		return fmt.Errorf("failed to load persona %s: %w", askPersona, err)
	}

	if _, err := a.db.CreateMessage(ctx, models.Message{
		PersonaID:  persona.ID,
		ActorID:    askUser,
		SenderID:   askUser,
		SenderName: askUser,
		Content:    strings.Join(args, " "),
		IsFromUser: true,
	}); err != nil {
		return fmt.Errorf("failed to save message: %w", err)
	}

	history, err := a.db.GetMessages(ctx, persona.ID, askUser)
	if err != nil {
		return fmt.Errorf("failed to load history: %w", err)
	}

	out := &displayWriter{w: cmd.OutOrStdout()}
	text, err := a.service.GenerateStreamResponse(ctx, askUser, *persona, history, out.Token)
	fmt.Fprintln(cmd.OutOrStdout())
	if err != nil {
		return fmt.Errorf("%s: %w", assistant.UserMessage(err), err)
	}

	if text == "" {
		return nil
	}
	if _, err := a.db.CreateMessage(ctx, models.Message{
		PersonaID:  persona.ID,
		ActorID:    askUser,
		SenderID:   persona.ID,
		SenderName: persona.Name,
		Content:    text,
	}); err != nil {
		return fmt.Errorf("failed to save reply: %w", err)
	}
	return nil
}

// displayWriter prints streamed tokens to a terminal. A token that extends what is already
// shown prints only the new suffix; any other token is appended as is.
type displayWriter struct {
	w     io.Writer
	shown string
}

func (d *displayWriter) Token(text string) {
	if strings.HasPrefix(text, d.shown) {
		io.WriteString(d.w, text[len(d.shown):])
		d.shown = text
		return
	}
	io.WriteString(d.w, text)
	d.shown += text
}
