package main

import (
	"archive/tar"
	"compress/gzip"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"aina/internal/config"
)

func backupCmd() *cobra.Command {
	var outputPath string

	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Archive the database, session store and config",
		Long: `Creates a compressed .tar.gz archive with the SQLite database (and its
WAL files), the badger session directory when that backend is used, the
config file and the message templates. Stop the gateway first so the
badger directory is consistent.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			if outputPath == "" {
				backupDir := filepath.Join(config.ExpandPath(cfg.General.DataDir), "backups")
				if err := os.MkdirAll(backupDir, 0o755); err != nil {
					return fmt.Errorf("cannot create backup directory: %w", err)
				}
				ts := time.Now().Format("20060102-150405")
				outputPath = filepath.Join(backupDir, fmt.Sprintf("aina-backup-%s.tar.gz", ts))
			}

			entries := backupEntries(cfg, cfgPath)
			if len(entries) == 0 {
				return fmt.Errorf("nothing to back up (db: %s, config: %s)", cfg.Memory.DBPath, cfgPath)
			}

			n, size, err := createTarGz(outputPath, entries)
			if err != nil {
				return fmt.Errorf("backup failed: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Backup created: %s\n", outputPath)
			fmt.Fprintf(out, "Files included: %d (%s)\n", n, humanize.Bytes(uint64(size)))
			for _, e := range entries {
				fmt.Fprintf(out, "  - %s\n", e.name)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&outputPath, "output", "o", "", "output file path (default: <dataDir>/backups/aina-backup-<timestamp>.tar.gz)")
	return cmd
}

// backupEntry maps a file or directory on disk to its name in the archive.
type backupEntry struct {
	path string
	name string
}

func backupEntries(cfg *config.Config, cfgPath string) []backupEntry {
	var entries []backupEntry
	add := func(path, name string) {
		if path == "" {
			return
		}
		if _, err := os.Stat(path); err == nil {
			entries = append(entries, backupEntry{path: path, name: name})
		}
	}

	if db := cfg.Memory.DBPath; db != "" {
		add(db, "aina.db")
		add(db+"-wal", "aina.db-wal")
		add(db+"-shm", "aina.db-shm")
	}
	if cfg.Session.Backend == "badger" {
		add(cfg.Session.BadgerDir, "sessions")
	}
	add(config.ExpandPath(cfgPath), "config.json")
	add(cfg.General.MessagesFile, "messages.yaml")
	return entries
}

// createTarGz writes the entries, recursing into directories, and reports
// the file count and total uncompressed size.
func createTarGz(outputPath string, entries []backupEntry) (int, int64, error) {
	outFile, err := os.Create(outputPath)
	if err != nil {
		return 0, 0, err
	}
	defer outFile.Close()

	gzWriter := gzip.NewWriter(outFile)
	defer gzWriter.Close()

	tarWriter := tar.NewWriter(gzWriter)
	defer tarWriter.Close()

	var files int
	var total int64
	for _, e := range entries {
		err := filepath.WalkDir(e.path, func(p string, d fs.DirEntry, err error) error {
			if err != nil || d.IsDir() {
				return err
			}
			rel, err := filepath.Rel(e.path, p)
			if err != nil {
				return err
			}
			name := e.name
			if rel != "." {
				name = filepath.ToSlash(filepath.Join(e.name, rel))
			}
			n, err := addFileToTar(tarWriter, p, name)
			if err != nil {
				return fmt.Errorf("add %s: %w", p, err)
			}
			files++
			total += n
			return nil
		})
		if err != nil {
			return 0, 0, err
		}
	}
	return files, total, nil
}

func addFileToTar(tw *tar.Writer, filePath, name string) (int64, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return 0, err
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return 0, err
	}

	header, err := tar.FileInfoHeader(info, "")
	if err != nil {
		return 0, err
	}
	header.Name = name

	if err := tw.WriteHeader(header); err != nil {
		return 0, err
	}
	return io.Copy(tw, file)
}
