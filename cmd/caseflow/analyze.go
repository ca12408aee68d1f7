package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/kalambet/caseflow/internal/api"
	"github.com/kalambet/caseflow/internal/history"
	"github.com/kalambet/caseflow/internal/session"
	"github.com/kalambet/caseflow/internal/transport"
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze [document-id]",
	Short: "Run a live analysis and follow it to completion",
	Long: `Run a full analysis of an uploaded document, streaming agent output
stage by stage. Without a document id the most recent upload is used.

Examples:
  caseflow analyze
  caseflow analyze 2f1c9b34-...-ab12
  caseflow analyze --file ./checkout-spec.pdf --auto-confirm`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		file, _ := cmd.Flags().GetString("file")
		autoConfirm, _ := cmd.Flags().GetBool("auto-confirm")

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		kv, err := openStore(cfg)
		if err != nil {
			return err
		}
		defer kv.Close()

		hist := history.New(kv)
		docStore := history.NewDocumentStore(kv)

		store := session.New(cfg.Stages(), hist)
		store.SetFailureKeywords(cfg.FailureKeywords())

		docs, err := docStore.Load()
		if err != nil {
			return err
		}
		for _, d := range docs {
			store.AddDocument(d)
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		client := api.NewClient(cfg.Server.BaseURL)

		docID := ""
		switch {
		case file != "":
			doc, err := uploadForAnalysis(ctx, client, docStore, file)
			if err != nil {
				return err
			}
			store.AddDocument(doc)
			docID = doc.ID
		case len(args) == 1:
			docID = args[0]
			store.SelectDocument(docID)
		default:
			docID, err = docStore.Last()
			if err != nil {
				return err
			}
			if docID == "" {
				return fmt.Errorf("no uploaded documents; run `caseflow upload <file>` first")
			}
			store.SelectDocument(docID)
		}

		if err := store.StartRun(docID); err != nil {
			return err
		}

		printStep("Creating analysis session...")
		sess, err := client.CreateSession(ctx, docID)
		if err != nil {
			store.RunFailed()
			return err
		}
		store.SetSession(sess.ID)
		printStatus("Session", "%s", sess.ID)

		ctrl, err := transport.New(store, cfg.Server.BaseURL, cfg.IdleTimeout())
		if err != nil {
			store.RunFailed()
			return err
		}
		defer ctrl.Close()

		if err := ctrl.Connect(ctx, sess.ID); err != nil {
			store.RunFailed()
			return err
		}

		return followRun(ctx, store, ctrl, autoConfirm)
	},
}

func init() {
	analyzeCmd.Flags().String("file", "", "upload this file and analyze it")
	analyzeCmd.Flags().Bool("auto-confirm", false, "confirm stage results without prompting")
	rootCmd.AddCommand(analyzeCmd)
}

func uploadForAnalysis(ctx context.Context, client *api.Client, docStore *history.DocumentStore, path string) (session.Document, error) {
	f, err := os.Open(path)
	if err != nil {
		return session.Document{}, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	up, err := client.Upload(ctx, path, f)
	if err != nil {
		return session.Document{}, err
	}
	if err := docStore.Add(up.Document); err != nil {
		return session.Document{}, err
	}
	if up.Duplicate {
		printWarning("Already uploaded, reusing %s (id %s)", up.Document.OriginalName, up.Document.ID)
	} else {
		printSuccess("Uploaded %s (id %s)", up.Document.OriginalName, up.Document.ID)
	}
	return up.Document, nil
}

// runView tracks what has already been printed so each snapshot renders
// only its delta.
type runView struct {
	stage     string
	printed   map[string]int // result id -> content length already shown
	notices   int
	confirmed map[string]bool
}

func newRunView() *runView {
	return &runView{
		printed:   make(map[string]int),
		confirmed: make(map[string]bool),
	}
}

// followRun renders store changes until the run ends, confirming gated
// results either automatically or on Enter.
func followRun(ctx context.Context, store *session.Store, ctrl *transport.Controller, autoConfirm bool) error {
	view := newRunView()

	// Stdin lines double as confirmations and activity for the watchdog.
	lines := make(chan string, 1)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	render(store.Snapshot(), view)

	for {
		select {
		case <-ctx.Done():
			ctrl.Cancel()
			printWarning("analysis cancelled")
			return nil
		case <-lines:
			store.TouchActivity()
			confirmPending(store, ctrl, view)
		case <-store.Changed():
		}

		snap := store.Snapshot()
		render(snap, view)

		if autoConfirm {
			confirmPending(store, ctrl, view)
		} else {
			for _, r := range snap.Results {
				if r.NeedsConfirmation && !view.confirmed[r.ID] {
					printWarning("stage %s needs confirmation — press Enter to continue", r.Stage)
					break
				}
			}
		}

		if !snap.Running && !snap.Connecting {
			break
		}
	}

	snap := store.Snapshot()
	if snap.Progress >= 1.0 {
		printSuccess("Analysis complete")
	}
	return nil
}

func confirmPending(store *session.Store, ctrl *transport.Controller, view *runView) {
	for _, r := range store.Snapshot().Results {
		if !r.NeedsConfirmation || view.confirmed[r.ID] {
			continue
		}
		if err := ctrl.SendConfirmation(r.ID); err != nil {
			printError("confirming %s: %v", r.Stage, err)
			continue
		}
		view.confirmed[r.ID] = true
		printSuccess("confirmed %s", r.Stage)
	}
}

func render(snap session.Snapshot, view *runView) {
	for ; view.notices < len(snap.Notices); view.notices++ {
		printStatus("System", "%s", snap.Notices[view.notices].Content)
	}

	if snap.CurrentStage != "" && snap.CurrentStage != view.stage {
		view.stage = snap.CurrentStage
		printStage(snap.CurrentStage, snap.Progress)
	}

	for _, r := range snap.Results {
		shown := view.printed[r.ID]
		if len(r.Content) > shown {
			if shown == 0 {
				fmt.Println(resultHeading(r.Stage, r.Sender))
			}
			fmt.Print(r.Content[shown:])
			fmt.Println()
			view.printed[r.ID] = len(r.Content)
		}
	}
}
