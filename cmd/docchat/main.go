package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/alecthomas/kong"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/joho/godotenv"

	"docchat/internal/config"
	"docchat/internal/embedding/tfidf"
	"docchat/internal/logger"
	"docchat/internal/tui"
)

type Globals struct {
	Config string `help:"Path to YAML config file (uses ./config.yaml or ~/.config/docchat/config.yaml if not provided)" type:"path"`
	Env    string `help:"Path to a .env file with API keys" default:".env"`
}

type runContext struct {
	ctx context.Context
	cfg *config.AppConfig
	log *logger.Logger
}

func (r *runContext) open() (*app, error) {
	return newApp(r.ctx, r.cfg, r.log)
}

type chatCmd struct {
	K int `help:"Chunks retrieved per question (0 uses chat.default_k)" default:"0"`
}

func (c *chatCmd) Run(rc *runContext) error {
	a, err := rc.open()
	if err != nil {
		return err
	}
	defer a.Close()

	st := a.chat.Stats()
	header := fmt.Sprintf("%d documents, %d chunks, embeddings: %s, generator: %s",
		st.Index.TotalDocuments, st.Index.TotalChunks, st.Index.Embedding, st.Generator)
	_, err = tea.NewProgram(tui.New(a.chat, header, c.K), tea.WithAltScreen()).Run()
	return err
}

// askCmd is single-shot: conversation history lives in process memory, so
// every ask starts a new conversation.
type askCmd struct {
	Question string `arg:"" help:"Question to answer from the indexed documents"`
	K        int    `help:"Chunks retrieved (0 uses chat.default_k)" default:"0"`
}

func (c *askCmd) Run(rc *runContext) error {
	a, err := rc.open()
	if err != nil {
		return err
	}
	defer a.Close()
	return printJSON(a.chat.Chat(rc.ctx, c.Question, "", c.K))
}

type ingestCmd struct {
	Files []string `arg:"" help:".txt files or glob patterns to index"`
}

func (c *ingestCmd) Run(rc *runContext) error {
	a, err := rc.open()
	if err != nil {
		return err
	}
	defer a.Close()

	results, err := a.docs.IngestFiles(rc.ctx, c.Files)
	for _, r := range results {
		fmt.Printf("%s  %s  %d chunks\n", r.DocumentID, r.Filename, r.Chunks)
		if r.Summary != "" {
			fmt.Printf("    %s\n", r.Summary)
		}
	}
	return err
}

type searchCmd struct {
	Query string `arg:"" help:"Text to search for"`
	K     int    `help:"Number of results" default:"5"`
}

func (c *searchCmd) Run(rc *runContext) error {
	a, err := rc.open()
	if err != nil {
		return err
	}
	defer a.Close()

	results, err := a.index.Search(rc.ctx, c.Query, c.K)
	if err != nil {
		return err
	}
	if len(results) == 0 {
		fmt.Println("No results.")
		return nil
	}
	for _, r := range results {
		fmt.Printf("%d. %s (chunk %d)  distance=%.4f\n   %s\n", r.Rank, r.Filename, r.ChunkIndex+1, r.SimilarityScore, snippet(r.Text, 160))
	}
	return nil
}

type removeCmd struct {
	DocumentID string `arg:"" help:"Document id as printed by ingest or documents"`
}

func (c *removeCmd) Run(rc *runContext) error {
	a, err := rc.open()
	if err != nil {
		return err
	}
	defer a.Close()

	removed, err := a.docs.Remove(rc.ctx, c.DocumentID)
	if err != nil {
		return err
	}
	if !removed {
		return fmt.Errorf("document %s not found", c.DocumentID)
	}
	fmt.Printf("Removed %s\n", c.DocumentID)
	return nil
}

type clearCmd struct {
	Yes bool `help:"Confirm removal of every indexed document"`
}

func (c *clearCmd) Run(rc *runContext) error {
	if !c.Yes {
		return fmt.Errorf("clear removes every indexed document; rerun with --yes")
	}
	a, err := rc.open()
	if err != nil {
		return err
	}
	defer a.Close()

	n := a.index.Count()
	if err := a.index.Clear(); err != nil {
		return err
	}
	fmt.Printf("Cleared %d chunks\n", n)
	return nil
}

type documentsCmd struct{}

func (c *documentsCmd) Run(rc *runContext) error {
	a, err := rc.open()
	if err != nil {
		return err
	}
	defer a.Close()

	docs := a.docs.Documents()
	if len(docs) == 0 {
		fmt.Println("No documents indexed.")
		return nil
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "DOCUMENT ID\tFILENAME\tCHUNKS")
	for _, d := range docs {
		fmt.Fprintf(w, "%s\t%s\t%d\n", d.DocumentID, d.Filename, d.Chunks)
	}
	return w.Flush()
}

type statsCmd struct{}

func (c *statsCmd) Run(rc *runContext) error {
	a, err := rc.open()
	if err != nil {
		return err
	}
	defer a.Close()
	return printJSON(a.chat.Stats())
}

type fitEmbedderCmd struct {
	Files []string `arg:"" help:".txt files or glob patterns forming the vocabulary corpus"`
	Out   string   `help:"Output model path (defaults to embedder.local.model_path)" type:"path"`
}

func (c *fitEmbedderCmd) Run(rc *runContext) error {
	ch, err := newChunker(rc.cfg.Chunker)
	if err != nil {
		return err
	}
	var corpus []string
	for _, p := range c.Files {
		matches, err := filepath.Glob(p)
		if err != nil {
			return err
		}
		if matches == nil {
			matches = []string{p}
		}
		for _, m := range matches {
			if !strings.HasSuffix(strings.ToLower(m), ".txt") {
				continue
			}
			data, err := os.ReadFile(m)
			if err != nil {
				return err
			}
			corpus = append(corpus, ch.Split(string(data))...)
		}
	}
	emb, err := tfidf.Fit(corpus)
	if err != nil {
		return err
	}
	out := c.Out
	if out == "" {
		out = rc.cfg.Embedder.Local.ModelPath
	}
	if err := emb.Save(out); err != nil {
		return err
	}
	rc.log.Info("embedding model written", "path", out, "dimension", emb.Dimension(), "chunks", len(corpus))
	fmt.Printf("Wrote %s (dimension %d). Existing index artifacts built with another model must be removed.\n", out, emb.Dimension())
	return nil
}

var cli struct {
	Globals

	Chat        chatCmd        `cmd:"" default:"withargs" help:"Interactive chat over the indexed documents"`
	Ask         askCmd         `cmd:"" help:"Answer one question and print the response as JSON"`
	Ingest      ingestCmd      `cmd:"" help:"Index .txt documents"`
	Search      searchCmd      `cmd:"" help:"Show the chunks nearest to a query"`
	Remove      removeCmd      `cmd:"" help:"Remove a document and rebuild the index"`
	Clear       clearCmd       `cmd:"" help:"Remove every document from the index"`
	Documents   documentsCmd   `cmd:"" help:"List indexed documents"`
	Stats       statsCmd       `cmd:"" help:"Print index and conversation statistics"`
	FitEmbedder fitEmbedderCmd `cmd:"" name:"fit-embedder" help:"Fit the local TF-IDF embedding model"`
}

func main() {
	kctx := kong.Parse(&cli,
		kong.Name("docchat"),
		kong.Description("Chat with your documents using retrieval-augmented generation."),
		kong.UsageOnError(),
	)

	_ = godotenv.Load(cli.Env)

	var cfg *config.AppConfig
	var err error
	if cli.Config == "" {
		cfg, _, err = config.LoadDefault()
	} else {
		cfg, err = config.Load(cli.Config)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.Log.Mode)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	err = kctx.Run(&runContext{ctx: context.Background(), cfg: cfg, log: log})
	if err != nil {
		log.Fatal("command failed", "command", kctx.Command(), "error", err)
	}
}

// snippet collapses whitespace and cuts to at most n runes.
func snippet(text string, n int) string {
	text = strings.Join(strings.Fields(text), " ")
	if runes := []rune(text); len(runes) > n {
		return string(runes[:n]) + "..."
	}
	return text
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
