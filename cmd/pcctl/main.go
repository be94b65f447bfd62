// pcctl - researcher tooling for PersonaChat studies
package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/personachat/personachat/internal/config"
	"github.com/personachat/personachat/internal/core"
	"github.com/personachat/personachat/internal/export"
	"github.com/personachat/personachat/internal/identity"
	"github.com/personachat/personachat/internal/ledger"
	"github.com/personachat/personachat/internal/persona"
	"github.com/personachat/personachat/internal/radial"
	"github.com/personachat/personachat/internal/storage"
	"github.com/personachat/personachat/internal/vectors"
)

var (
	configPath string
	dataDir    string
	studyID    string

	version = "0.1.0"
)

func main() {
	_ = godotenv.Load()

	rootCmd := &cobra.Command{
		Use:          "pcctl",
		Short:        "pcctl - inspect and export PersonaChat studies",
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file")
	rootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", "", "data directory")
	rootCmd.PersistentFlags().StringVar(&studyID, "study", "", "study id (default from config)")

	rootCmd.AddCommand(exportCmd())
	rootCmd.AddCommand(summaryCmd())
	rootCmd.AddCommand(verifyCmd())
	rootCmd.AddCommand(renderCmd())
	rootCmd.AddCommand(pseudonymCmd())
	rootCmd.AddCommand(reindexCmd())
	rootCmd.AddCommand(forgetCmd())
	rootCmd.AddCommand(versionCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if dataDir != "" {
		cfg.DataDir = dataDir
	}
	if studyID != "" {
		cfg.Study.ID = studyID
	}
	return cfg, nil
}

// openDB opens the study database without creating one.
func openDB(cfg *config.Config) (*storage.DB, error) {
	path := cfg.DatabasePath()
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("no database at %s (has the server run?)", path)
	}
	db, err := storage.Open(storage.Config{Path: path})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migration failed: %w", err)
	}
	return db, nil
}

func exportCmd() *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export participants, messages, events and personas to an xlsx workbook",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			db, err := openDB(cfg)
			if err != nil {
				return err
			}
			defer db.Close()

			ds, err := export.Load(cmd.Context(), db, cfg.Study.ID)
			if err != nil {
				return err
			}

			if out == "" {
				out = fmt.Sprintf("%s-%s.xlsx", cfg.Study.ID, time.Now().Format("20060102-150405"))
			}
			f, err := os.Create(out)
			if err != nil {
				return err
			}
			if err := export.WriteWorkbook(f, ds); err != nil {
				f.Close()
				return err
			}
			if err := f.Close(); err != nil {
				return err
			}

			fmt.Printf("Exported %d participants, %d snapshots, %d events to %s\n",
				len(ds.Participants), len(ds.Snapshots), len(ds.Entries), out)
			return nil
		},
	}
	cmd.Flags().StringVarP(&out, "output", "o", "", "output file")
	return cmd
}

func summaryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "summary",
		Short: "Print per-trait statistics and ledger counts",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			db, err := openDB(cfg)
			if err != nil {
				return err
			}
			defer db.Close()

			ds, err := export.Load(cmd.Context(), db, cfg.Study.ID)
			if err != nil {
				return err
			}
			sum, err := ledger.NewStore(db.Conn()).GetSummary(cmd.Context(), cfg.Study.ID)
			if err != nil {
				return err
			}

			fmt.Printf("Study:        %s\n", cfg.Study.ID)
			fmt.Printf("Participants: %d\n", sum.Participants)
			fmt.Printf("Events:       %d\n", sum.TotalEntries)
			fmt.Printf("Snapshots:    %d\n", len(ds.Snapshots))
			if sum.ChainValid {
				fmt.Println("Chain:        ✅ valid")
			} else {
				fmt.Printf("Chain:        ❌ %s\n", sum.ChainError)
			}

			traits := export.Summarize(ds.Snapshots)
			if len(traits) == 0 {
				return nil
			}
			fmt.Println()
			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "TRAIT\tN\tMEAN\tSD\tMIN\tMEDIAN\tMAX")
			for _, t := range traits {
				fmt.Fprintf(w, "%s\t%d\t%.2f\t%.2f\t%.2f\t%.2f\t%.2f\n",
					t.DisplayName, t.Count, t.Mean, t.StdDev, t.Min, t.Median, t.Max)
			}
			return w.Flush()
		},
	}
}

func verifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify",
		Short: "Verify the study's ledger hash chain",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			db, err := openDB(cfg)
			if err != nil {
				return err
			}
			defer db.Close()

			store := ledger.NewStore(db.Conn())
			count, err := store.Count(cmd.Context(), cfg.Study.ID)
			if err != nil {
				return err
			}
			if err := store.VerifyChain(cmd.Context(), cfg.Study.ID); err != nil {
				return fmt.Errorf("chain broken: %w", err)
			}
			fmt.Printf("✅ %d entries verified for study %s\n", count, cfg.Study.ID)
			return nil
		},
	}
}

func renderCmd() *cobra.Command {
	var (
		out   string
		id    string
		label string
	)
	cmd := &cobra.Command{
		Use:   "render <input.json>",
		Short: "Render a persona sunburst SVG from a trait map or categorised input",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			in, err := persona.DecodeInput(data)
			if err != nil {
				return err
			}
			chart := radial.Render(in, id, radial.Options{CenterLabel: label, ShowPercentages: true})

			if out == "" {
				fmt.Println(chart.SVG)
				return nil
			}
			return os.WriteFile(out, []byte(chart.SVG), 0644)
		},
	}
	cmd.Flags().StringVarP(&out, "output", "o", "", "output file (default stdout)")
	cmd.Flags().StringVar(&id, "id", "persona-chart", "root element id")
	cmd.Flags().StringVar(&label, "label", "Persona", "centre label")
	return cmd
}

func pseudonymCmd() *cobra.Command {
	var reveal bool
	cmd := &cobra.Command{
		Use:   "pseudonym <external-id|sealed>",
		Short: "Compute a participant pseudonym, or reveal a sealed external id",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			secret := cfg.Identity.Secret
			if secret == "" {
				fmt.Fprint(os.Stderr, "Pseudonym secret: ")
				raw, err := term.ReadPassword(int(os.Stdin.Fd()))
				fmt.Fprintln(os.Stderr)
				if err != nil {
					return fmt.Errorf("failed to read secret: %w", err)
				}
				secret = strings.TrimSpace(string(raw))
			}

			p, err := identity.NewPseudonymizer(secret, cfg.Study.ID, identity.DefaultParams)
			if err != nil {
				return err
			}
			if reveal {
				external, err := p.Open(args[0])
				if err != nil {
					return err
				}
				fmt.Println(external)
				return nil
			}
			fmt.Println(p.ID(args[0]))
			return nil
		},
	}
	cmd.Flags().BoolVar(&reveal, "reveal", false, "decrypt a sealed external id")
	return cmd
}

// openIndex connects to Qdrant regardless of qdrant.enabled; the commands
// that call it exist only for the index.
func openIndex(ctx context.Context, cfg *config.Config) (*vectors.PersonaIndex, func(), error) {
	store, err := vectors.NewStore(vectors.Config{
		Host:   cfg.Qdrant.Host,
		Port:   cfg.Qdrant.Port,
		UseTLS: cfg.Qdrant.UseTLS,
		APIKey: cfg.Qdrant.APIKey,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("qdrant not available: %w", err)
	}
	index := vectors.NewPersonaIndex(store, cfg.Qdrant.Collection, cfg.Study.ID)
	if err := index.EnsureCollection(ctx); err != nil {
		store.Close()
		return nil, nil, err
	}
	return index, func() { store.Close() }, nil
}

func reindexCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reindex",
		Short: "Load every stored persona snapshot into the vector index",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			db, err := openDB(cfg)
			if err != nil {
				return err
			}
			defer db.Close()

			index, closeIndex, err := openIndex(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer closeIndex()

			snaps, err := storage.NewSnapshotStore(db).List(cmd.Context(), cfg.Study.ID)
			if err != nil {
				return err
			}
			indexed, skipped := 0, 0
			for _, s := range snaps {
				if err := index.Upsert(cmd.Context(), *s); err != nil {
					fmt.Fprintf(os.Stderr, "⚠️  %s: %v\n", s.ID, err)
					skipped++
					continue
				}
				indexed++
			}
			fmt.Printf("Indexed %d snapshots (%d skipped)\n", indexed, skipped)
			return nil
		},
	}
}

func forgetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "forget <participant-id>",
		Short: "Remove a participant's persona vectors from the index",
		Long: `Removes the participant's persona vectors from the similarity index.

The event ledger is append-only and is not changed.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			db, err := openDB(cfg)
			if err != nil {
				return err
			}
			defer db.Close()

			snaps, err := storage.NewSnapshotStore(db).ListByParticipant(cmd.Context(), core.ParticipantID(args[0]))
			if err != nil {
				return err
			}
			ids := make([]string, 0, len(snaps))
			for _, s := range snaps {
				ids = append(ids, s.ID)
			}
			if len(ids) == 0 {
				fmt.Println("No snapshots for", args[0])
				return nil
			}

			index, closeIndex, err := openIndex(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer closeIndex()

			if err := index.Forget(cmd.Context(), ids); err != nil {
				return err
			}
			fmt.Printf("Removed %d vectors for %s\n", len(ids), args[0])
			return nil
		},
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("pcctl %s\n", version)
		},
	}
}
