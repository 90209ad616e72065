package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/quarrylabs/quarry/internal/output"
	"github.com/quarrylabs/quarry/internal/search"
)

// searchResultJSON is the stable JSON shape for one result.
type searchResultJSON struct {
	SourceRef string  `json:"source_ref"`
	StartLine int     `json:"start_line"`
	EndLine   int     `json:"end_line"`
	Score     float64 `json:"score"`
	Dense     float64 `json:"dense_score"`
	Sparse    float64 `json:"sparse_score"`
	Rerank    float64 `json:"rerank_score,omitempty"`
	Content   string  `json:"content"`
}

func newSearchCmd() *cobra.Command {
	var (
		topK     int
		datasets []string
		noRerank bool
		asJSON   bool
	)

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Query the index with hybrid retrieval",
		Long: `Search runs the query against both the dense vector index and the keyword
index, fuses the rankings, and optionally reranks the top candidates with a
cross-encoder.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			query := strings.Join(args, " ")

			svc, err := openService(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = svc.Close() }()

			resp, err := svc.Search(ctx, &search.Request{
				Query:         query,
				Datasets:      datasets,
				TopK:          topK,
				DisableRerank: noRerank,
			})
			if err != nil {
				return err
			}

			if asJSON {
				return printJSON(resp)
			}
			printResults(resp)
			return nil
		},
	}

	cmd.Flags().IntVarP(&topK, "top", "n", 0, "Maximum number of results (default from config)")
	cmd.Flags().StringSliceVar(&datasets, "dataset", nil, "Restrict to specific dataset IDs")
	cmd.Flags().BoolVar(&noRerank, "no-rerank", false, "Skip the reranking stage")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Emit results as JSON")
	return cmd
}

func printJSON(resp *search.Response) error {
	results := make([]searchResultJSON, len(resp.Results))
	for i, r := range resp.Results {
		results[i] = searchResultJSON{
			SourceRef: r.Chunk.SourceRef,
			StartLine: r.Chunk.StartLine,
			EndLine:   r.Chunk.EndLine,
			Score:     r.Score,
			Dense:     r.Breakdown.Dense,
			Sparse:    r.Breakdown.Sparse,
			Rerank:    r.Breakdown.Rerank,
			Content:   r.Chunk.Content,
		}
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(map[string]any{
		"results":     results,
		"mode":        resp.Mode,
		"reranked":    resp.Reranked,
		"duration_ms": resp.Duration.Milliseconds(),
	})
}

func printResults(resp *search.Response) {
	out := output.New(os.Stdout)

	if len(resp.Results) == 0 {
		out.Status(" ", "no results")
		return
	}

	for i, r := range resp.Results {
		loc := r.Chunk.SourceRef
		if r.Chunk.StartLine > 0 {
			loc = fmt.Sprintf("%s:%d-%d", r.Chunk.SourceRef, r.Chunk.StartLine, r.Chunk.EndLine)
		}
		out.Statusf(" ", "%2d. %-50s %.4f", i+1, loc, r.Score)
		out.Code(snippet(r.Chunk.Content, 3))
	}

	note := fmt.Sprintf("%d result(s) in %s (%s", len(resp.Results),
		resp.Duration.Round(time.Millisecond), resp.Mode)
	if resp.Reranked {
		note += ", reranked"
	}
	note += ")"
	out.Newline()
	out.Status(" ", note)
}

// snippet returns the first n non-empty lines of content.
func snippet(content string, n int) string {
	var lines []string
	for _, line := range strings.Split(content, "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		lines = append(lines, line)
		if len(lines) == n {
			break
		}
	}
	return strings.Join(lines, "\n")
}
