package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"taleweaver/internal/ai"
	"taleweaver/internal/config"
	"taleweaver/internal/engine"
	"taleweaver/internal/game"
	"taleweaver/internal/options"
	"taleweaver/internal/store"
	"taleweaver/internal/tasks"
)

var (
	sessionID    string
	newTitle     string
	newUniverse  string
	newUniverseT string
	playerName   string
	startingLoc  string
)

var playCmd = &cobra.Command{
	Use:   "play",
	Short: "Start or continue a story",
	Long: `Opens a session and enters the turn loop. With --session the named
session is resumed; with --new-title a fresh session is created. Type your
actions or speech at the prompt; /quit leaves the story.`,
	RunE: runPlay,
}

func init() {
	playCmd.Flags().StringVar(&sessionID, "session", "", "session id to resume")
	playCmd.Flags().StringVar(&newTitle, "new-title", "", "create a new session with this title")
	playCmd.Flags().StringVar(&newUniverse, "universe", "A Quiet Village", "universe name for a new session")
	playCmd.Flags().StringVar(&newUniverseT, "universe-type", "fantasy", "universe type for a new session")
	playCmd.Flags().StringVar(&playerName, "player", "Traveler", "player character name for a new session")
	playCmd.Flags().StringVar(&startingLoc, "location", "The Crossroads", "starting location for a new session")
}

func runPlay(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := store.NewSessionStore(cfg.Storage.DatabasePath)
	if err != nil {
		return fmt.Errorf("opening session store: %w", err)
	}
	defer st.Close()

	gem, err := ai.NewGemini(ctx, cfg.AI.APIKey, cfg.AI.Model)
	if err != nil {
		return fmt.Errorf("initializing AI client: %w", err)
	}

	coord := tasks.NewCoordinator()
	eng, err := engine.New(engine.Deps{
		Store:        st,
		Classifier:   gem,
		Resolver:     gem,
		Memorist:     gem,
		Cartographer: gem,
		Illustrator:  gem,
		Credentials:  gem,
		Coordinator:  coord,
		Notify: func(n engine.Notification) {
			if n.Blocking {
				fmt.Printf("\n!! %s\n   %s\n", n.Title, n.Body)
			} else {
				fmt.Printf("\n-- %s\n", n.Title)
			}
		},
	})
	if err != nil {
		return err
	}
	defer eng.CloseSession()
	defer coord.Wait()

	// Config changes (log levels, categories) apply without a restart.
	watcher, err := config.NewWatcher(dataDir)
	if err != nil {
		logger.Warn("config hot reload unavailable", zap.Error(err))
	} else if err := watcher.Start(); err != nil {
		logger.Warn("config hot reload unavailable", zap.Error(err))
	} else {
		defer watcher.Stop()
	}

	sess, err := openOrCreate(eng)
	if err != nil {
		return err
	}
	fmt.Printf("== %s ==\n", sess.Title)
	printMessages(sess, sess.Messages)

	optCache := options.NewCache(st)
	reader := bufio.NewScanner(os.Stdin)
	for {
		showSuggestions(ctx, eng, gem, optCache)
		fmt.Print("\n> ")
		if !reader.Scan() {
			break
		}
		input := strings.TrimSpace(reader.Text())
		switch {
		case input == "":
			continue
		case input == "/quit", input == "/exit":
			return nil
		case input == "/theme":
			eng.RegenerateTheme(true)
			fmt.Println("regenerating theme...")
			continue
		}

		before := len(eng.Session().Messages)
		tctx, cancel := context.WithTimeout(ctx, cfg.AITimeout())
		err := eng.SubmitTurn(tctx, input, nil)
		cancel()
		if err != nil {
			if err == engine.ErrTurnInFlight {
				fmt.Println("(still resolving the previous turn)")
				continue
			}
			return err
		}
		after := eng.Session()
		printMessages(after, after.Messages[before:])
	}
	return reader.Err()
}

func openOrCreate(eng *engine.Engine) (*game.Session, error) {
	if sessionID != "" {
		return eng.OpenSession(sessionID)
	}
	if newTitle == "" {
		return nil, fmt.Errorf("pass --session to resume or --new-title to start a story")
	}
	return eng.CreateSession(newTitle, game.SessionConfig{
		UniverseName: newUniverse,
		UniverseType: newUniverseT,
		Language:     cfg.Game.Language,
		Style:        game.NarrativeStyle(cfg.Game.NarrativeStyle),
	}, playerName, startingLoc)
}

func showSuggestions(ctx context.Context, eng *engine.Engine, sug ai.Suggester, cache *options.Cache) {
	// Session() hands back a detached copy, safe to share with the fetcher.
	sess := eng.Session()
	if sess == nil || len(sess.Messages) == 0 {
		return
	}
	opts, err := cache.FetchWithCache(ctx, sess.ID, sess.LastMessageID(), sess.LastMessageID(),
		func(ctx context.Context) ([]string, error) {
			return sug.SuggestActions(ctx, sess)
		})
	if err != nil || len(opts) == 0 {
		return
	}
	fmt.Println()
	for i, o := range opts {
		fmt.Printf("  %d. %s\n", i+1, o)
	}
}

func printMessages(sess *game.Session, msgs []game.Message) {
	for _, m := range msgs {
		switch m.Type {
		case game.MessageSystem:
			fmt.Printf("\n[%s]\n", m.Text)
		case game.MessageDialogue:
			name := m.SenderID
			if c, ok := sess.Characters[m.SenderID]; ok {
				name = c.Name
			}
			fmt.Printf("\n%s: %s\n", name, m.Text)
		default:
			fmt.Printf("\n%s\n", m.Text)
		}
	}
}
