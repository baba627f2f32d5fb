package cmd

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/sw33tLie/spacescope/internal/utils"
	"github.com/sw33tLie/spacescope/pkg/explorer"
	"github.com/sw33tLie/spacescope/pkg/history"
	"github.com/sw33tLie/spacescope/pkg/stream"
	"golang.org/x/term"
)

const exploreHelp = `Type text and press Enter to search, or a command:
  /more            load the next page
  /reload          reload the current view
  /clear           clear the query and go back to browsing
  /history [page]  list past searches
  /replay <id>     run a past search again
  /help            show this help
  /quit            exit`

// screen prints explorer views incrementally: only items not yet shown for
// the current mode and query.
type screen struct {
	out io.Writer

	mu        sync.Mutex
	started   bool
	mode      explorer.Mode
	query     string
	shown     int
	lastRetry int
}

func (s *screen) render(v explorer.View) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started || v.Mode != s.mode || v.Stream.Query != s.query || len(v.Stream.Items) < s.shown {
		s.started = true
		s.mode, s.query, s.shown = v.Mode, v.Stream.Query, 0
		if v.Mode == explorer.ModeSearch {
			fmt.Fprintf(s.out, "--- search %q ---\n", v.Stream.Query)
		} else {
			fmt.Fprintln(s.out, "--- catalog ---")
		}
	}

	if len(v.Stream.Items) > s.shown {
		var scores map[int]float64
		if v.Mode == explorer.ModeSearch {
			scores = v.Stream.Scores
			if scores == nil {
				scores = map[int]float64{}
			}
		}
		// Column headers go out once per section.
		writeItemTable(s.out, v.Stream.Items[s.shown:], scores, s.shown == 0)
		s.shown = len(v.Stream.Items)
	}

	switch {
	case v.Retry.Active && !v.Retry.InFlight:
		if v.Retry.SecondsRemaining != s.lastRetry {
			fmt.Fprintf(s.out, "[!] Request failed, retrying in %d seconds\n", v.Retry.SecondsRemaining)
		}
		s.lastRetry = v.Retry.SecondsRemaining
		return
	case v.ShowNoResults:
		fmt.Fprintln(s.out, "No results.")
	case v.Stream.Err != nil && v.Stream.Phase == stream.Failed:
		fmt.Fprintf(s.out, "[!] %v\n", v.Stream.Err)
	}
	s.lastRetry = -1
}

func (s *screen) status(v explorer.View) {
	st := v.Stream
	more := ""
	if st.HasMore {
		more = ", /more for the next page"
	}
	fmt.Fprintf(s.out, "%s: %d of %d items, page %d%s\n", v.Mode, len(st.Items), st.TotalItems, st.Page, more)
	if v.HistoryError != nil {
		fmt.Fprintf(s.out, "[!] history: %v\n", v.HistoryError)
	}
}

var exploreCmd = &cobra.Command{
	Use:   "explore [query]",
	Short: "Interactive browse and search session",
	Long: `Starts a line-driven session over the catalog. Each line is searched as soon as it is entered,
an empty line goes back to browsing. Failed requests are retried after a countdown.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := newEngine()
		if err != nil {
			return err
		}
		defer e.close()

		interactive := term.IsTerminal(int(os.Stdin.Fd()))
		scr := &screen{out: os.Stdout, lastRetry: -1}

		ex, err := explorer.New(explorer.Config{
			Catalog:          e.catalog,
			History:          e.ledger,
			PageSize:         viper.GetInt("catalog.pagesize"),
			Debounce:         viper.GetDuration("search.debounce"),
			RetryCountdown:   viper.GetInt("retry.countdown"),
			RetryMaxAttempts: viper.GetInt("retry.maxattempts"),
			Query:            strings.Join(args, " "),
			Log:              utils.Log,
			OnChange: func(v explorer.View) {
				if v.Retry.Active {
					scr.render(v)
				}
			},
		})
		if err != nil {
			return err
		}
		defer ex.Close()

		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}

		if interactive {
			fmt.Println(exploreHelp)
		}
		ex.Start()
		ex.Wait()
		scr.render(ex.View())
		scr.status(ex.View())

		in := bufio.NewScanner(os.Stdin)
		for {
			if interactive {
				fmt.Print("> ")
			}
			if !in.Scan() {
				break
			}
			quit, err := exploreLine(ctx, ex, e.ledger, scr, in.Text())
			if err != nil {
				fmt.Printf("[!] %v\n", err)
			}
			if quit {
				break
			}
			if !interactive {
				// Scripts wait for retries so the output is complete.
				if err := ex.WaitIdle(ctx); err != nil {
					return err
				}
			} else {
				ex.Wait()
			}
			scr.render(ex.View())
		}
		return in.Err()
	},
}

// exploreLine runs one input line. It reports whether the session should end.
func exploreLine(ctx context.Context, ex *explorer.Explorer, ledger *history.Ledger, scr *screen, line string) (bool, error) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "/") {
		// Enter is an explicit submit; no debounce.
		ex.Submit(line)
		return false, nil
	}

	fields := strings.Fields(line)
	switch fields[0] {
	case "/quit", "/exit", "/q":
		return true, nil
	case "/help":
		fmt.Println(exploreHelp)
	case "/more":
		if !ex.LoadMore() {
			fmt.Println("Nothing more to load.")
		}
	case "/reload":
		ex.Reload()
	case "/clear":
		ex.Submit("")
	case "/status":
		scr.status(ex.View())
	case "/history":
		page := 1
		if len(fields) > 1 {
			p, err := strconv.Atoi(fields[1])
			if err != nil {
				return false, fmt.Errorf("bad page %q", fields[1])
			}
			page = p
		}
		p, err := ledger.LoadPage(ctx, page, 10)
		if err != nil {
			return false, err
		}
		return false, printHistoryPage(os.Stdout, "txt", p)
	case "/replay":
		if len(fields) < 2 {
			return false, fmt.Errorf("usage: /replay <id>")
		}
		entry, err := ex.Replay(ctx, fields[1])
		if err != nil {
			return false, err
		}
		fmt.Printf("Replaying %q from %s\n", entry.Query, formatMillis(entry.Timestamp))
	default:
		return false, fmt.Errorf("unknown command %s (try /help)", fields[0])
	}
	return false, nil
}

func init() {
	rootCmd.AddCommand(exploreCmd)
}
