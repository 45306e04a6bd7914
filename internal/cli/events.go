package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/stupiduntilnot/relaybot/internal/config"
	"github.com/stupiduntilnot/relaybot/internal/db"
)

func NewEventsCmd() *cobra.Command {
	var (
		dbPath    string
		limit     int
		jsonOut   bool
		noPayload bool
	)

	cmd := &cobra.Command{
		Use:   "events",
		Short: "Show the most recent journal events as a tree",
		RunE: func(cmd *cobra.Command, args []string) error {
			if dbPath == "" {
				resolved, err := config.EventDBPath(globalFlags.ConfigPath)
				if err != nil {
					return err
				}
				dbPath = resolved
			}
			if dbPath == "" {
				return fmt.Errorf("no event journal: pass --db or set RELAY_EVENT_DB_PATH")
			}

			database, err := db.OpenDB(dbPath)
			if err != nil {
				return err
			}
			defer database.Close()
			if err := db.InitSchema(database); err != nil {
				return err
			}

			events, err := db.RecentEvents(database, limit)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if jsonOut {
				return printJSON(out, buildForest(events), noPayload)
			}
			for _, root := range buildForest(events) {
				printTree(out, root, "", true, 1, noPayload)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&dbPath, "db", "", "journal database (default RELAY_EVENT_DB_PATH)")
	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "number of most recent events")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "output JSON")
	cmd.Flags().BoolVar(&noPayload, "no-payload", false, "hide payload details")
	return cmd
}

type eventNode struct {
	db.Event
	Children []*eventNode
}

// buildForest nests events under their parents. Events whose parent fell
// outside the window become roots.
func buildForest(events []db.Event) []*eventNode {
	byID := make(map[int64]*eventNode, len(events))
	nodes := make([]*eventNode, 0, len(events))
	for _, ev := range events {
		n := &eventNode{Event: ev}
		byID[ev.ID] = n
		nodes = append(nodes, n)
	}

	var roots []*eventNode
	for _, n := range nodes {
		if n.ParentID != nil && *n.ParentID != n.ID {
			if parent, ok := byID[*n.ParentID]; ok {
				parent.Children = append(parent.Children, n)
				continue
			}
		}
		roots = append(roots, n)
	}
	for _, n := range nodes {
		sort.Slice(n.Children, func(i, j int) bool { return n.Children[i].ID < n.Children[j].ID })
	}
	sort.Slice(roots, func(i, j int) bool { return roots[i].ID < roots[j].ID })
	return roots
}

func printTree(w io.Writer, n *eventNode, prefix string, isLast bool, depth int, noPayload bool) {
	line := formatEvent(n.Event, noPayload)
	if depth == 1 {
		fmt.Fprintln(w, line)
	} else {
		connector := "├── "
		if isLast {
			connector = "└── "
		}
		fmt.Fprintln(w, prefix+connector+line)
	}

	childPrefix := prefix
	if depth > 1 {
		if isLast {
			childPrefix += "    "
		} else {
			childPrefix += "│   "
		}
	}
	for i, child := range n.Children {
		printTree(w, child, childPrefix, i == len(n.Children)-1, depth+1, noPayload)
	}
}

// formatEvent renders "[id] time  type  key=value ..." with sorted keys.
func formatEvent(ev db.Event, noPayload bool) string {
	ts := time.Unix(ev.Timestamp, 0).UTC().Format("2006-01-02 15:04:05")
	var b strings.Builder
	fmt.Fprintf(&b, "[%d] %s  %s", ev.ID, ts, ev.EventType)
	if noPayload || len(ev.Payload) == 0 {
		return b.String()
	}
	keys := make([]string, 0, len(ev.Payload))
	for k := range ev.Payload {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, "  %s=%s", k, formatValue(ev.Payload[k]))
	}
	return b.String()
}

func formatValue(v any) string {
	switch val := v.(type) {
	case string:
		if r := []rune(val); len(r) > 80 {
			return fmt.Sprintf("%q", string(r[:80])+"...")
		}
		return val
	case float64:
		if val == float64(int64(val)) {
			return fmt.Sprintf("%d", int64(val))
		}
		return fmt.Sprintf("%g", val)
	default:
		return fmt.Sprintf("%v", val)
	}
}

type jsonEvent struct {
	ID        int64          `json:"id"`
	Timestamp int64          `json:"timestamp"`
	EventType string         `json:"event_type"`
	Payload   map[string]any `json:"payload,omitempty"`
	Children  []jsonEvent    `json:"children,omitempty"`
}

func toJSONEvent(n *eventNode, noPayload bool) jsonEvent {
	je := jsonEvent{ID: n.ID, Timestamp: n.Timestamp, EventType: n.EventType}
	if !noPayload {
		je.Payload = n.Payload
	}
	for _, child := range n.Children {
		je.Children = append(je.Children, toJSONEvent(child, noPayload))
	}
	return je
}

func printJSON(w io.Writer, roots []*eventNode, noPayload bool) error {
	out := make([]jsonEvent, 0, len(roots))
	for _, r := range roots {
		out = append(out, toJSONEvent(r, noPayload))
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}
