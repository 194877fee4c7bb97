package main

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"taleweaver/internal/migrate"
	"taleweaver/internal/store"
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "Manage saved sessions",
}

var sessionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List saved sessions, most recent first",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := store.NewSessionStore(cfg.Storage.DatabasePath)
		if err != nil {
			return err
		}
		defer st.Close()

		summaries, err := st.LoadAll()
		if err != nil {
			return err
		}
		if len(summaries) == 0 {
			fmt.Println("No saved sessions.")
			return nil
		}
		w := tabwriter.NewWriter(os.Stdout, 2, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tTITLE\tUNIVERSE\tTURNS\tLAST PLAYED")
		for _, s := range summaries {
			fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n",
				s.ID, s.Title, s.Universe, s.TurnCount, s.LastPlayed.Format("2006-01-02 15:04"))
		}
		return w.Flush()
	},
}

var sessionsDeleteCmd = &cobra.Command{
	Use:   "delete [session-id]",
	Short: "Delete a saved session and its cached data",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := store.NewSessionStore(cfg.Storage.DatabasePath)
		if err != nil {
			return err
		}
		defer st.Close()

		if err := st.Delete(args[0]); err != nil {
			return err
		}
		fmt.Printf("Deleted session %s.\n", args[0])
		return nil
	},
}

var sessionsExportCmd = &cobra.Command{
	Use:   "export [session-id] [file]",
	Short: "Export a session as a portable record",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := store.NewSessionStore(cfg.Storage.DatabasePath)
		if err != nil {
			return err
		}
		defer st.Close()

		rec, err := st.Export(args[0])
		if err != nil {
			return err
		}
		data, err := json.MarshalIndent(rec, "", "  ")
		if err != nil {
			return err
		}
		if err := os.WriteFile(args[1], data, 0644); err != nil {
			return err
		}
		fmt.Printf("Exported session %s to %s (schema v%d).\n", args[0], args[1], rec.SchemaVersion)
		return nil
	},
}

var sessionsImportCmd = &cobra.Command{
	Use:   "import [file]",
	Short: "Import a portable session record",
	Long: `Validates the record first and reports exactly what is wrong with a
record that cannot be imported: a schema version this build does not
understand, or a malformed payload. An imported session always gets a
fresh id.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return err
		}
		var rec store.PortableRecord
		if err := json.Unmarshal(data, &rec); err != nil {
			return fmt.Errorf("not a portable session record: %w", err)
		}

		st, err := store.NewSessionStore(cfg.Storage.DatabasePath)
		if err != nil {
			return err
		}
		defer st.Close()

		if check := st.ValidateImport(&rec); !check.Valid {
			switch check.Kind {
			case "version":
				return fmt.Errorf("record schema v%d is not supported by this build (max v%d): %w",
					rec.SchemaVersion, store.SchemaVersion, check.Err)
			default:
				return fmt.Errorf("record is malformed: %w", check.Err)
			}
		}
		id, err := st.Import(&rec)
		if err != nil {
			return err
		}
		fmt.Printf("Imported as session %s.\n", id)
		return nil
	},
}

var sessionsMigrateCmd = &cobra.Command{
	Use:   "migrate [session-id]",
	Short: "Upgrade a legacy session record in place",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := store.NewSessionStore(cfg.Storage.DatabasePath)
		if err != nil {
			return err
		}
		defer st.Close()

		sess, err := st.Load(args[0])
		if err != nil {
			return err
		}
		if !migrate.NeedsMigration(sess) {
			fmt.Println("Session is already up to date.")
			return nil
		}
		res := migrate.MigrateSession(sess)
		if err := st.Save(sess); err != nil {
			return err
		}
		fmt.Printf("Migrated session %s:\n", args[0])
		for _, line := range res.ChangeLog {
			fmt.Printf("  - %s\n", line)
		}
		return nil
	},
}
