package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/slipstream/acquire/internal/app"
	"github.com/slipstream/acquire/internal/release"
)

// requestFile is the YAML layout accepted by --file: either a single
// release or a list under "releases".
type requestFile struct {
	Releases []release.Request `yaml:"releases"`
}

func loadRequests(path string) ([]release.Request, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read request file")
	}

	var file requestFile
	if err := yaml.Unmarshal(data, &file); err == nil && len(file.Releases) > 0 {
		return file.Releases, nil
	}

	var single release.Request
	if err := yaml.Unmarshal(data, &single); err != nil {
		return nil, errors.Wrap(err, "parse request file")
	}
	if single.Title == "" {
		return nil, errors.Errorf("%s: no releases found", path)
	}
	return []release.Request{single}, nil
}

func RunSearchCommand(configPath *string) *cobra.Command {
	var (
		req       release.Request
		file      string
		quality   string
		dispatch  bool
		automatic bool
		asJSON    bool
	)

	cmd := &cobra.Command{
		Use:   "search",
		Short: "Search for a release and optionally dispatch the best result",
		Example: `  acquire search --artist "Boards of Canada" --title "Geogaddi" --date 2002-02-18
  acquire search --file wanted.yaml --dispatch --automatic`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			requests := []release.Request{req}
			if file != "" {
				loaded, err := loadRequests(file)
				if err != nil {
					return err
				}
				requests = loaded
			} else if req.Title == "" {
				return errors.New("--title or --file is required")
			}

			e, err := setup(cmd.Context(), *configPath, true)
			if err != nil {
				return err
			}
			defer e.Close()

			// --quality wins; flag-only requests fall back to the configured mode.
			mode := e.cfg.Search.Quality.QualityMode()
			if quality != "" {
				var ok bool
				if mode, ok = release.ParseQualityMode(quality); !ok {
					return errors.Errorf("unknown quality %q", quality)
				}
			}

			a, err := app.Build(e.cfg, e.db.Conn(), e.log.Logger)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			var failed int
			for _, r := range requests {
				if quality != "" || file == "" {
					r.Quality = mode
				}
				results := a.Search.Search(cmd.Context(), r, automatic)
				if asJSON {
					if err := json.NewEncoder(out).Encode(results); err != nil {
						return err
					}
				} else {
					printResults(out, r, results)
				}

				if !dispatch {
					continue
				}
				outcome, err := a.Search.DispatchBest(cmd.Context(), results, r)
				if err != nil {
					failed++
					fmt.Fprintf(cmd.ErrOrStderr(), "%s - %s: %v\n", r.Artist, r.Title, err)
					continue
				}
				fmt.Fprintf(out, "sent %q to %s as %q\n", outcome.Result.Title, outcome.Client, outcome.Folder)
			}
			if failed > 0 {
				return errors.Errorf("%d of %d dispatches failed", failed, len(requests))
			}
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVar(&req.ID, "id", "", "release id recorded with the snatch")
	f.StringVar(&req.Artist, "artist", "", "artist name")
	f.StringVar(&req.Title, "title", "", "release title")
	f.StringVar(&req.ReleaseDate, "date", "", "release date (YYYY or YYYY-MM-DD)")
	f.StringVar(&req.SearchTerm, "term", "", "search term overriding artist and title")
	f.IntVar(&req.TrackCount, "tracks", 0, "track count, used by the peer-share tier")
	f.Int64Var(&req.DurationMs, "duration-ms", 0, "total duration, used by the size windows")
	f.StringVarP(&file, "file", "f", "", "YAML file with one release or a releases list")
	f.StringVarP(&quality, "quality", "q", "", "highest, highest-lossless, bitrate or lossless")
	f.BoolVar(&dispatch, "dispatch", false, "send the best result to its download backend")
	f.BoolVar(&automatic, "automatic", false, "skip results already snatched for the release")
	f.BoolVar(&asJSON, "json", false, "print results as JSON")
	return cmd
}

func printResults(w io.Writer, r release.Request, results []release.Result) {
	fmt.Fprintf(w, "%s - %s: %d results\n", r.Artist, r.Title, len(results))
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for i, res := range results {
		fmt.Fprintf(tw, "%d\t%s\t%.1f MB\t%s\t%s\n", i+1, res.Title, release.MegaBytes(res.Size), res.Kind, release.ProviderDisplayName(res.Provider))
	}
	tw.Flush()
}
