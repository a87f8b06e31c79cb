package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/neurobench/sortagree/internal/agreement"
	"github.com/neurobench/sortagree/internal/compare"
	"github.com/neurobench/sortagree/internal/config"
	"github.com/neurobench/sortagree/internal/curation"
	"github.com/neurobench/sortagree/internal/groundtruth"
	"github.com/neurobench/sortagree/internal/recording"
	"github.com/neurobench/sortagree/internal/sorter"
	"github.com/neurobench/sortagree/internal/train"
	"github.com/neurobench/sortagree/internal/traindb"
)

// loadTuning reads the -config file, falling back to the default config
// path when present. A nil Tuning means built-in defaults throughout.
func loadTuning(path string) (*config.Tuning, error) {
	if path == "" {
		if _, err := os.Stat(config.DefaultConfigPath); err != nil {
			return nil, nil
		}
		path = config.DefaultConfigPath
	}
	return config.Load(path)
}

// loadTrainSet reads a train set from either a .tsv events file or a .json
// ground-truth manifest.
func loadTrainSet(path string, samplingRate float64) (*train.Set, error) {
	if filepath.Ext(path) == ".json" {
		return groundtruth.Load(path)
	}
	return train.LoadTSV(path, samplingRate)
}

// comparisonReport is the JSON shape written by "compare -json".
type comparisonReport struct {
	RefName        string              `json:"ref_name"`
	TestName       string              `json:"test_name"`
	WindowFrames   int64               `json:"window_frames"`
	MinAccuracy    float64             `json:"min_accuracy"`
	Matched        []compare.PairScore `json:"matched"`
	MissedRefs     []string            `json:"missed_refs,omitempty"`
	FalsePositives []string            `json:"false_positives,omitempty"`
	ByUnit         compare.Performance `json:"performance_by_unit"`
	Pooled         compare.Performance `json:"performance_pooled"`
}

func runCompare(args []string) error {
	fs := flag.NewFlagSet("compare", flag.ExitOnError)
	refPath := fs.String("ref", "", "Reference train set (.tsv events or .json ground truth)")
	testPath := fs.String("test", "", "Test train set (.tsv events or .json ground truth)")
	rate := fs.Float64("rate", 0, "Sampling rate in Hz for .tsv inputs")
	window := fs.Int64("window", -1, "Coincidence window in frames (default from config)")
	minAccuracy := fs.Float64("min-accuracy", -1, "Minimum accuracy for a match (default from config)")
	assign := fs.String("assign", "greedy", "Assignment method: greedy, hungarian or one-to-many")
	configPath := fs.String("config", "", "Tuning config JSON")
	jsonOut := fs.String("json", "", "Write the full report as JSON to this path")
	dbPath := fs.String("db", "", "Record the run in this sqlite database")
	fs.Parse(args)

	if *refPath == "" || *testPath == "" {
		return fmt.Errorf("-ref and -test are required")
	}

	tuning, err := loadTuning(*configPath)
	if err != nil {
		return err
	}
	opts, err := buildOptions(tuning, *window, *minAccuracy, *assign)
	if err != nil {
		return err
	}

	ref, err := loadTrainSet(*refPath, *rate)
	if err != nil {
		return err
	}
	test, err := loadTrainSet(*testPath, *rate)
	if err != nil {
		return err
	}

	result, err := compare.Compare(ref, test, opts)
	if err != nil {
		return err
	}

	byUnit, err := result.Performance(compare.AggregateByUnit)
	if err != nil {
		return err
	}
	pooled, err := result.Performance(compare.AggregatePooled)
	if err != nil {
		return err
	}

	log.Printf("compared %s (%d units) against %s (%d units): %d matched, %d missed, %d false positive",
		ref.Name(), ref.NumUnits(), test.Name(), test.NumUnits(),
		len(result.Matched), len(result.MissedRefs), len(result.FalsePositives))
	log.Printf("by-unit:  accuracy %.4f  precision %.4f  recall %.4f",
		byUnit.Accuracy, byUnit.Precision, byUnit.Recall)
	log.Printf("pooled:   accuracy %.4f  precision %.4f  recall %.4f",
		pooled.Accuracy, pooled.Precision, pooled.Recall)

	if *jsonOut != "" {
		report := comparisonReport{
			RefName:        result.RefName,
			TestName:       result.TestName,
			WindowFrames:   opts.CoincidenceWindow,
			MinAccuracy:    opts.MinAccuracy,
			Matched:        result.Matched,
			MissedRefs:     result.MissedRefs,
			FalsePositives: result.FalsePositives,
			ByUnit:         byUnit,
			Pooled:         pooled,
		}
		if err := writeJSON(*jsonOut, report); err != nil {
			return err
		}
	}

	if *dbPath != "" {
		db, err := traindb.Open(*dbPath)
		if err != nil {
			return err
		}
		defer db.Close()
		runID, err := db.RecordComparison(context.Background(), result)
		if err != nil {
			return err
		}
		log.Printf("recorded comparison run %s", runID)
	}

	return nil
}

func buildOptions(tuning *config.Tuning, window int64, minAccuracy float64, assign string) (compare.Options, error) {
	opts := compare.Options{
		CoincidenceWindow: tuning.GetCoincidenceWindow(),
		MinAccuracy:       tuning.GetMinAccuracy(),
		Workers:           tuning.GetWorkers(),
	}
	if window >= 0 {
		opts.CoincidenceWindow = window
	}
	if minAccuracy >= 0 {
		opts.MinAccuracy = minAccuracy
	}
	switch assign {
	case "greedy":
		opts.Assign = compare.AssignGreedy
	case "hungarian":
		opts.Assign = compare.AssignHungarian
	case "one-to-many":
		opts.Assign = compare.AssignOneToMany
	default:
		return compare.Options{}, fmt.Errorf("unknown assignment method %q", assign)
	}
	return opts, nil
}

// agreementReport is the JSON shape written by "agreement -json".
type agreementReport struct {
	Sets            []string           `json:"sets"`
	WindowFrames    int64              `json:"window_frames"`
	MinAccuracy     float64            `json:"min_accuracy"`
	MinimumMatching int                `json:"minimum_matching"`
	Nodes           int                `json:"nodes"`
	Edges           int                `json:"edges"`
	Retained        int                `json:"retained"`
	Dropped         int                `json:"dropped"`
	DroppedUnits    []agreement.Member `json:"dropped_units,omitempty"`
}

func runAgreement(args []string) error {
	fs := flag.NewFlagSet("agreement", flag.ExitOnError)
	setsArg := fs.String("sets", "", "Comma-separated train set paths (.tsv or .json)")
	rate := fs.Float64("rate", 0, "Sampling rate in Hz for .tsv inputs")
	window := fs.Int64("window", -1, "Coincidence window in frames (default from config)")
	minAccuracy := fs.Float64("min-accuracy", -1, "Minimum accuracy for an agreement edge (default from config)")
	minimumMatching := fs.Int("minimum-matching", -1, "Minimum distinct sorters per agreement unit (default from config)")
	configPath := fs.String("config", "", "Tuning config JSON")
	outPath := fs.String("out", "", "Write the agreement train set to this .tsv path")
	jsonOut := fs.String("json", "", "Write the run report as JSON to this path")
	dbPath := fs.String("db", "", "Record the run in this sqlite database")
	fs.Parse(args)

	if *setsArg == "" {
		return fmt.Errorf("-sets is required")
	}

	tuning, err := loadTuning(*configPath)
	if err != nil {
		return err
	}
	opts, err := buildOptions(tuning, *window, *minAccuracy, "greedy")
	if err != nil {
		return err
	}
	matching := tuning.GetMinimumMatching()
	if *minimumMatching >= 1 {
		matching = *minimumMatching
	}

	var sets []*train.Set
	for _, path := range strings.Split(*setsArg, ",") {
		set, err := loadTrainSet(strings.TrimSpace(path), *rate)
		if err != nil {
			return err
		}
		sets = append(sets, set)
	}
	if matching > len(sets) {
		matching = len(sets)
	}

	graph, err := agreement.Build(sets, opts)
	if err != nil {
		return err
	}
	result, report, err := graph.AgreementSorting(matching)
	if err != nil {
		return err
	}

	log.Printf("agreement over %d sorters: %d nodes, %d edges, %d units retained, %d dropped",
		len(sets), graph.NumNodes(), graph.NumEdges(), report.Retained, report.Dropped)

	if *outPath != "" {
		if err := result.SaveTSV(*outPath); err != nil {
			return err
		}
	}
	if *jsonOut != "" {
		names := make([]string, len(sets))
		for i, s := range sets {
			names[i] = s.Name()
		}
		out := agreementReport{
			Sets:            names,
			WindowFrames:    opts.CoincidenceWindow,
			MinAccuracy:     opts.MinAccuracy,
			MinimumMatching: matching,
			Nodes:           graph.NumNodes(),
			Edges:           graph.NumEdges(),
			Retained:        report.Retained,
			Dropped:         report.Dropped,
			DroppedUnits:    report.DroppedUnits,
		}
		if err := writeJSON(*jsonOut, out); err != nil {
			return err
		}
	}
	if *dbPath != "" {
		db, err := traindb.Open(*dbPath)
		if err != nil {
			return err
		}
		defer db.Close()
		runID, err := db.RecordAgreement(context.Background(), graph, opts, matching, result, report)
		if err != nil {
			return err
		}
		log.Printf("recorded agreement run %s", runID)
	}

	return nil
}

func runSort(args []string) error {
	fs := flag.NewFlagSet("sort", flag.ExitOnError)
	recPath := fs.String("recording", "", "Raw recording file (.bin with .meta.json sidecar)")
	sorterName := fs.String("sorter", "", "Sorter name from the descriptor table")
	tablePath := fs.String("sorters", "sorters.yaml", "Sorter descriptor table (YAML)")
	paramsPath := fs.String("params", "", "Sorter parameter overrides (JSON)")
	outPath := fs.String("out", "", "Write the sorted train set to this .tsv path")
	configPath := fs.String("config", "", "Tuning config JSON")
	preprocess := fs.Bool("preprocess", true, "Bandpass and common-reference before sorting")
	splitGroups := fs.Bool("split-groups", false, "Sort each channel group separately and merge")
	workDir := fs.String("work-dir", "", "Directory for sorter run directories")
	keepRunDirs := fs.Bool("keep-run-dirs", false, "Preserve run directories for debugging")
	fs.Parse(args)

	if *recPath == "" || *sorterName == "" || *outPath == "" {
		return fmt.Errorf("-recording, -sorter and -out are required")
	}

	table, err := sorter.LoadTable(*tablePath)
	if err != nil {
		return err
	}
	desc, ok := table.Find(*sorterName)
	if !ok {
		return fmt.Errorf("sorter %q not in table %s (have: %s)",
			*sorterName, *tablePath, strings.Join(table.Names(), ", "))
	}

	var params map[string]any
	if *paramsPath != "" {
		data, err := os.ReadFile(*paramsPath)
		if err != nil {
			return fmt.Errorf("reading params: %w", err)
		}
		if err := json.Unmarshal(data, &params); err != nil {
			return fmt.Errorf("parsing params %s: %w", *paramsPath, err)
		}
	}

	rec, err := recording.LoadRaw(*recPath)
	if err != nil {
		return err
	}
	log.Printf("loaded recording: %d channels, %d frames, %.0f Hz (%.1fs)",
		rec.NumChannels(), rec.NumFrames(), rec.SamplingRate(), rec.Duration())

	tuning, err := loadTuning(*configPath)
	if err != nil {
		return err
	}
	if *preprocess {
		rec, err = rec.Bandpass(tuning.GetBandLowHz(), tuning.GetBandHighHz())
		if err != nil {
			return err
		}
		rec, err = rec.CommonReference(recording.ReferenceMethod(tuning.GetReferenceMethod()))
		if err != nil {
			return err
		}
	}

	runner := &sorter.Runner{
		WorkDir:     *workDir,
		KeepRunDirs: *keepRunDirs,
		Log:         log.Default(),
	}
	ctx := context.Background()

	var result *train.Set
	if *splitGroups {
		result, err = sortByGroups(ctx, runner, desc, rec, params)
	} else {
		result, err = runner.Run(ctx, desc, rec, params)
	}
	if err != nil {
		return err
	}

	log.Printf("sorter %s produced %d units, %d events", desc.Name, result.NumUnits(), result.TotalEvents())
	return result.SaveTSV(*outPath)
}

// sortByGroups runs the sorter once per channel group and merges the
// results, prefixing unit IDs with the group index so they stay distinct.
func sortByGroups(ctx context.Context, runner *sorter.Runner, desc sorter.Descriptor,
	rec *recording.Recording, params map[string]any) (*train.Set, error) {

	groups := rec.SplitGroups()
	merged := make(map[string][]train.Frame)
	for gi, group := range groups {
		set, err := runner.Run(ctx, desc, group, params)
		if err != nil {
			return nil, fmt.Errorf("group %d: %w", gi, err)
		}
		for _, unitID := range set.UnitIDs() {
			events, err := set.Events(unitID)
			if err != nil {
				return nil, err
			}
			merged[fmt.Sprintf("g%d:%s", gi, unitID)] = events
		}
	}
	return train.NewSet(desc.Name, rec.SamplingRate(), merged)
}

func runExportPhy(args []string) error {
	fs := flag.NewFlagSet("export-phy", flag.ExitOnError)
	setPath := fs.String("set", "", "Train set to export (.tsv or .json)")
	rate := fs.Float64("rate", 0, "Sampling rate in Hz for .tsv inputs")
	recPath := fs.String("recording", "", "Optional raw recording to stage into the project")
	outDir := fs.String("out", "", "Curation project directory to create")
	fs.Parse(args)

	if *setPath == "" || *outDir == "" {
		return fmt.Errorf("-set and -out are required")
	}

	set, err := loadTrainSet(*setPath, *rate)
	if err != nil {
		return err
	}

	var rec *recording.Recording
	if *recPath != "" {
		rec, err = recording.LoadRaw(*recPath)
		if err != nil {
			return err
		}
	}

	if err := curation.Export(set, rec, *outDir); err != nil {
		return err
	}
	log.Printf("exported %d units (%d events) to %s", set.NumUnits(), set.TotalEvents(), *outDir)
	return nil
}

func runImportPhy(args []string) error {
	fs := flag.NewFlagSet("import-phy", flag.ExitOnError)
	inDir := fs.String("in", "", "Curation project directory")
	outPath := fs.String("out", "", "Write the curated train set to this .tsv path")
	dbPath := fs.String("db", "", "Also store the curated set in this sqlite database")
	fs.Parse(args)

	if *inDir == "" || *outPath == "" {
		return fmt.Errorf("-in and -out are required")
	}

	set, err := curation.Import(*inDir)
	if err != nil {
		return err
	}
	log.Printf("imported %d curated units (%d events) from %s", set.NumUnits(), set.TotalEvents(), *inDir)

	if err := set.SaveTSV(*outPath); err != nil {
		return err
	}
	if *dbPath != "" {
		db, err := traindb.Open(*dbPath)
		if err != nil {
			return err
		}
		defer db.Close()
		if _, err := db.SaveSet(context.Background(), set); err != nil {
			return err
		}
	}
	return nil
}

func runDbSave(args []string) error {
	fs := flag.NewFlagSet("db-save", flag.ExitOnError)
	dbPath := fs.String("db", "", "Sqlite database path")
	setPath := fs.String("set", "", "Train set to store (.tsv or .json)")
	rate := fs.Float64("rate", 0, "Sampling rate in Hz for .tsv inputs")
	fs.Parse(args)

	if *dbPath == "" || *setPath == "" {
		return fmt.Errorf("-db and -set are required")
	}

	set, err := loadTrainSet(*setPath, *rate)
	if err != nil {
		return err
	}
	db, err := traindb.Open(*dbPath)
	if err != nil {
		return err
	}
	defer db.Close()

	setID, err := db.SaveSet(context.Background(), set)
	if err != nil {
		return err
	}
	log.Printf("stored %s as %s (%d units, %d events)", set.Name(), setID, set.NumUnits(), set.TotalEvents())
	return nil
}

func runDbList(args []string) error {
	fs := flag.NewFlagSet("db-list", flag.ExitOnError)
	dbPath := fs.String("db", "", "Sqlite database path")
	fs.Parse(args)

	if *dbPath == "" {
		return fmt.Errorf("-db is required")
	}

	db, err := traindb.Open(*dbPath)
	if err != nil {
		return err
	}
	defer db.Close()

	infos, err := db.ListSets(context.Background())
	if err != nil {
		return err
	}
	for _, info := range infos {
		fmt.Printf("%s\t%s\t%.0f Hz\t%d units\t%d events\n",
			info.SetID, info.Name, info.SamplingRate, info.NumUnits, info.NumEvents)
	}
	return nil
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}
