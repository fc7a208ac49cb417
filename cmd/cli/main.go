package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/himanishpuri/SyncDNA/pkg/config"
	"github.com/himanishpuri/SyncDNA/pkg/logger"
	"github.com/himanishpuri/SyncDNA/pkg/syncdna"
	"github.com/himanishpuri/SyncDNA/pkg/syncdna/video"
)

// Global flags
var (
	configPath string
	dbPath     string
	logLevel   string
)

func init() {
	flag.StringVar(&configPath, "config", os.Getenv("SYNCDNA_CONFIG"), "Path to a syncdna.yaml settings file")
	flag.StringVar(&dbPath, "db", "", "Path to the SQLite run history (overrides db_path)")
	flag.StringVar(&logLevel, "log", "", "Log level: DEBUG, INFO, WARN, ERROR")
}

func loadSettings() *config.Settings {
	set, err := config.Load(configPath)
	if err != nil {
		fmt.Printf("❌ %v\n", err)
		os.Exit(2)
	}
	if dbPath != "" {
		set.DBPath = dbPath
	}
	if logLevel != "" {
		set.Log.Level = logLevel
	}

	log := logger.GetLogger()
	if lvl, ok := logger.ParseLevel(set.Log.Level); ok {
		log.SetLevel(lvl)
	}
	log.SetColorize(set.Log.Color)
	return set
}

// createService creates a new SyncDNA service from the loaded settings
func createService(set *config.Settings) syncdna.Service {
	svc, err := syncdna.NewService(syncdna.WithSettings(set))
	if err != nil {
		fmt.Printf("❌ Failed to create service: %v\n", err)
		logger.GetLogger().Errorf("Service initialization failed: %v", err)
		os.Exit(1)
	}
	return svc
}

func main() {
	flag.Usage = printUsage
	flag.Parse()
	printBanner()

	if flag.NArg() < 1 {
		printUsage()
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	command, args := flag.Arg(0), flag.Args()[1:]
	set := loadSettings()
	logger.GetLogger().Debugf("Executing command: %s", command)

	var code int
	switch command {
	case "frames":
		code = handleFrames(ctx, set, args)
	case "crop":
		code = handleCrop(ctx, set, args)
	case "verify-av":
		code = handleVerifyAV(ctx, set, args)
	case "verify-ephys":
		code = handleVerifyEphys(ctx, set, args)
	case "concat":
		code = handleConcat(ctx, set, args)
	case "process":
		code = handleProcess(ctx, set, args)
	case "run":
		code = handleRun(ctx, set, args)
	case "list":
		code = handleList(set, args)
	case "show":
		code = handleShow(set, args)
	case "delete":
		code = handleDelete(set, args)
	default:
		fmt.Printf("Unknown command: %s\n", command)
		printUsage()
		code = 1
	}
	os.Exit(code)
}

func printBanner() {
	banner := `
 ____                   ____  _   _    _
/ ___| _   _ _ __   ___|  _ \| \ | |  / \
\___ \| | | | '_ \ / __| | | |  \| | / _ \
 ___) | |_| | | | | (__| |_| | |\  |/ ___ \
|____/ \__, |_| |_|\___|____/|_| \_/_/   \_\
       |___/
      Audio / Video / Ephys Synchronization
`
	fmt.Println(banner)
}

// sessionArg returns the single session directory a command operates on.
func sessionArg(name string, args []string) (string, bool) {
	if len(args) != 1 || strings.HasPrefix(args[0], "-") {
		fmt.Printf("Usage: syncdna %s <session_dir>\n", name)
		return "", false
	}
	return args[0], true
}

func handleFrames(ctx context.Context, set *config.Settings, args []string) int {
	cmd := flag.NewFlagSet("frames", flag.ExitOnError)
	force := cmd.Bool("force", false, "Overwrite an existing frame count file")
	cmd.Parse(args)
	if cmd.NArg() < 2 {
		fmt.Println("Usage: syncdna frames [--force] <session_dir> <camera>...")
		return 1
	}
	sess, err := syncdna.OpenSession(cmd.Arg(0))
	if err != nil {
		fmt.Printf("❌ %v\n", err)
		return 1
	}
	if _, path, err := video.LoadCountDict(sess.VideoDir()); err == nil && !*force {
		fmt.Printf("⚠️  %s already exists; pass --force to rebuild it\n", path)
		return 1
	}

	fmt.Println("🎞️  Reading camera frame clocks...")
	var streams []video.FrameStream
	for _, cam := range cmd.Args()[1:] {
		path, ok := video.FindFrameTimes(sess.VideoDir(), cam)
		if !ok {
			fmt.Printf("❌ No frame times for camera %s\n", cam)
			return 1
		}
		fs, err := video.LoadFrameTimes(path, cam)
		if err != nil {
			fmt.Printf("❌ %s: %v\n", cam, err)
			return 1
		}
		streams = append(streams, fs)

		line := fmt.Sprintf("   %s: %s frames at %.4f fps", cam,
			humanize.Comma(int64(len(fs.Timestamps))), fs.EmpiricalFrameRate())
		if vid, err := video.FindVideo(sess.VideoDir(), cam, set.Video.Extension); err == nil {
			if md, err := video.Probe(ctx, vid); err == nil {
				line += fmt.Sprintf(" (container says %.3f fps, %d frames)", md.FPS, md.FrameCount)
			} else {
				logger.GetLogger().Debugf("ffprobe %s: %v", vid, err)
			}
		}
		fmt.Println(line)
	}

	dict, err := video.BuildCountDict(streams)
	if err != nil {
		fmt.Printf("❌ %v\n", err)
		return 1
	}
	out := filepath.Join(sess.VideoDir(), sess.Name+video.CountDictSuffix)
	if err := dict.Save(out); err != nil {
		fmt.Printf("❌ Failed to write %s: %v\n", out, err)
		return 1
	}
	fmt.Printf("\n✅ %s frames / %.3f s common to all cameras, written to %s\n",
		humanize.Comma(int64(dict.TotalFrameNumberLeast)), dict.TotalVideoTimeLeast, out)
	return 0
}

func handleCrop(ctx context.Context, set *config.Settings, args []string) int {
	cmd := flag.NewFlagSet("crop", flag.ExitOnError)
	backend := cmd.String("backend", set.Audio.CropBackend, "Crop backend: sox or native")
	cmd.Parse(args)
	root, ok := sessionArg("crop", cmd.Args())
	if !ok {
		return 1
	}
	set.Audio.CropBackend = *backend

	svc := createService(set)
	defer svc.Close()

	fmt.Println("✂️  Cropping audio to the video span...")
	res, err := svc.CropAudio(ctx, root)
	if err != nil {
		fmt.Printf("\n❌ Crop failed: %v\n", err)
		return 1
	}
	for dev, b := range res.Devices {
		fmt.Printf("   %s: samples %s-%s (%.4f s, %+.4f s vs video)\n", dev,
			humanize.Comma(int64(b.StartFirstRecordedFrame)), humanize.Comma(int64(b.EndLastRecordedFrame)),
			b.DurationSeconds, b.AudioTrackingDiffSeconds)
	}
	if res.Stretched != "" {
		fmt.Printf("   ↔️  %s fitted to the other device's length\n", res.Stretched)
	}
	fmt.Printf("\n✅ Wrote %d cropped file(s) with %s\n", len(res.Outputs), res.Backend)
	return 0
}

func handleVerifyAV(ctx context.Context, set *config.Settings, args []string) int {
	root, ok := sessionArg("verify-av", args)
	if !ok {
		return 1
	}
	svc := createService(set)
	defer svc.Close()

	fmt.Println("🔍 Comparing LED and audio sync trains...")
	res, err := svc.VerifyAudioVideo(ctx, root)
	if err != nil {
		fmt.Printf("\n❌ %s: %v\n", syncdna.Classify(err), err)
		return 1
	}
	for _, c := range res.Cameras {
		fmt.Printf("   📷 %s: %d pulses at log offset %d (threshold %.2f, %s)\n",
			c.Camera, c.Window.Len(), c.Window.Offset, c.Threshold, c.Reducer)
	}
	for _, d := range res.Devices {
		s := d.Summary
		fmt.Printf("   🎙️  %s: median %.3f ms, mean %.3f ms, 99%% CI [%.3f, %.3f], max |%.3f| ms\n",
			d.Device, s.Median, s.Mean, s.CILow, s.CIHigh, s.MaxAbs)
	}
	if res.Decision.Approved {
		fmt.Println("\n✅ Within the deletion threshold; run `process` to commit")
	} else {
		fmt.Printf("\n⚠️  Originals kept: %s\n", res.Decision.Reason)
	}
	return 0
}

func handleVerifyEphys(ctx context.Context, set *config.Settings, args []string) int {
	root, ok := sessionArg("verify-ephys", args)
	if !ok {
		return 1
	}
	svc := createService(set)
	defer svc.Close()

	results, err := svc.VerifyEphysVideo(ctx, root)
	if err != nil {
		fmt.Printf("\n❌ Ephys validation failed: %v\n", err)
		return 1
	}
	if len(results) == 0 {
		fmt.Println("📭 No probe recordings found")
		return 0
	}
	code := 0
	for _, r := range results {
		switch r.State {
		case syncdna.Committed:
			fmt.Printf("✅ %s: %+.2f ms vs video, recorded in %s\n", r.Recording, r.DifferenceMs, r.RecordPath)
		default:
			fmt.Printf("⚠️  %s: %s (%s)\n", r.Recording, r.State, r.Reason)
			code = 1
		}
	}
	return code
}

func handleConcat(ctx context.Context, set *config.Settings, args []string) int {
	if len(args) == 0 {
		fmt.Println("Usage: syncdna concat <session_dir>...")
		return 1
	}
	svc := createService(set)
	defer svc.Close()

	fmt.Printf("🔗 Concatenating .%s.bin recordings of %d sessions...\n", set.Ephys.FileType, len(args))
	results, err := svc.ConcatenateEphys(ctx, args)
	for _, r := range results {
		fmt.Printf("   📼 %s: %d recordings, %s samples → %s\n",
			r.Probe, len(r.Segments), humanize.Comma(r.Samples), r.Output)
	}
	if err != nil {
		fmt.Printf("\n❌ Concatenation failed: %v\n", err)
		return 1
	}
	fmt.Println("\n✅ Changepoint records updated")
	return 0
}

func handleProcess(ctx context.Context, set *config.Settings, args []string) int {
	root, ok := sessionArg("process", args)
	if !ok {
		return 1
	}
	svc := createService(set)
	defer svc.Close()

	out, err := svc.ProcessSession(ctx, root)
	names := make([]string, len(out.History))
	for i, s := range out.History {
		names[i] = s.String()
	}
	fmt.Printf("\n%s\n", strings.Join(names, " → "))
	if err != nil {
		fmt.Printf("❌ %s: %v\n", out.State, err)
		return 1
	}
	if out.OriginalsDeleted {
		fmt.Println("🗑️  Uncropped audio removed")
	}
	fmt.Printf("✅ %s in %s\n", out.State, out.Elapsed.Round(time.Millisecond))
	return 0
}

func handleRun(ctx context.Context, set *config.Settings, args []string) int {
	cmd := flag.NewFlagSet("run", flag.ExitOnError)
	reportPath := cmd.String("report", set.ReportPath, "Write the batch report as JSON to this path")
	noEphys := cmd.Bool("no-ephys", !set.Ephys.Enabled, "Skip ephys/video validation")
	keep := cmd.Bool("keep-originals", !set.Sync.DeleteOriginals, "Never delete uncropped audio")
	cmd.Parse(args)
	if cmd.NArg() == 0 {
		fmt.Println("Usage: syncdna run [--report <path>] [--no-ephys] [--keep-originals] <root_dir>...")
		return 1
	}
	set.ReportPath = *reportPath
	set.Ephys.Enabled = !*noEphys
	set.Sync.DeleteOriginals = !*keep

	svc := createService(set)
	defer svc.Close()

	batch, err := svc.RunBatch(ctx, cmd.Args())
	if batch != nil {
		fmt.Println()
		if rerr := batch.Render(os.Stdout); rerr != nil {
			logger.GetLogger().Errorf("rendering report: %v", rerr)
		}
	}
	if err != nil {
		fmt.Printf("\n❌ %v\n", err)
		if errors.Is(err, context.Canceled) {
			return 130
		}
		return 1
	}
	if batch.Failed() {
		return 1
	}
	return 0
}

func handleList(set *config.Settings, args []string) int {
	cmd := flag.NewFlagSet("list", flag.ExitOnError)
	limit := cmd.Int("limit", 20, "Number of runs to show")
	session := cmd.String("session", "", "Only show runs of this session name")
	cmd.Parse(args)

	svc := createService(set)
	defer svc.Close()

	var runs []syncdna.Run
	var err error
	if *session != "" {
		runs, err = svc.SessionRuns(*session)
	} else {
		runs, err = svc.ListRuns(*limit)
	}
	if err != nil {
		fmt.Printf("❌ Failed to list runs: %v\n", err)
		return 1
	}
	if len(runs) == 0 {
		fmt.Println("\n📭 No runs recorded")
		return 0
	}
	fmt.Printf("\n📚 %d run(s):\n\n", len(runs))
	for _, r := range runs {
		fmt.Printf("%s  %-6s %-10s %s (%s)\n", r.ID, r.Status, r.State, r.Session, humanize.Time(r.CreatedAt))
	}
	return 0
}

func handleShow(set *config.Settings, args []string) int {
	if len(args) != 1 {
		fmt.Println("Usage: syncdna show <run_id>")
		return 1
	}
	svc := createService(set)
	defer svc.Close()

	r, err := svc.GetRun(args[0])
	if err != nil {
		fmt.Printf("❌ %v\n", err)
		return 1
	}
	fmt.Printf("\nSession:  %s\n", r.Session)
	fmt.Printf("Root:     %s\n", r.RootDir)
	fmt.Printf("Status:   %s (%s)\n", r.Status, r.State)
	if r.Reason != "" {
		fmt.Printf("Reason:   %s\n", r.Reason)
	}
	fmt.Printf("Median:   %.3f ms, mean %.3f ms, 99%% CI [%.3f, %.3f]\n",
		r.Summary.Median, r.Summary.Mean, r.Summary.CILow, r.Summary.CIHigh)
	fmt.Printf("Deleted:  %v\n", r.OriginalsDeleted)
	for _, d := range r.Devices {
		if d.Kind == "probe" {
			fmt.Printf("  🧠 %s: %+.2f ms (within: %v)\n", d.Name, d.DifferenceMs, d.Within)
			continue
		}
		fmt.Printf("  🎙️  %s: %d pulses, median %.3f ms\n", d.Name, d.Pulses, d.MedianMs)
	}
	return 0
}

func handleDelete(set *config.Settings, args []string) int {
	if len(args) != 1 {
		fmt.Println("Usage: syncdna delete <run_id>")
		return 1
	}
	svc := createService(set)
	defer svc.Close()

	if err := svc.DeleteRun(args[0]); err != nil {
		fmt.Printf("❌ Failed to delete run: %v\n", err)
		return 1
	}
	fmt.Printf("✅ Deleted run %s\n", args[0])
	return 0
}

func printUsage() {
	fmt.Println("SyncDNA - multi-modal sync pipeline")
	fmt.Println("\nGlobal Options:")
	fmt.Println("  --config <path>    Settings file (env: SYNCDNA_CONFIG, default: ./syncdna.yaml)")
	fmt.Println("  --db <path>        SQLite run history (env: SYNCDNA_DB_PATH)")
	fmt.Println("  --log <level>      DEBUG, INFO, WARN or ERROR")
	fmt.Println("\nUsage:")
	fmt.Println("  syncdna frames [--force] <session_dir> <camera>...")
	fmt.Println("  syncdna crop [--backend sox|native] <session_dir>")
	fmt.Println("  syncdna verify-av <session_dir>")
	fmt.Println("  syncdna verify-ephys <session_dir>")
	fmt.Println("  syncdna concat <session_dir>...")
	fmt.Println("  syncdna process <session_dir>")
	fmt.Println("  syncdna run [--report <path>] [--no-ephys] [--keep-originals] <root_dir>...")
	fmt.Println("  syncdna list [--limit n] [--session name]")
	fmt.Println("  syncdna show <run_id>")
	fmt.Println("  syncdna delete <run_id>")
	fmt.Println("\nExamples:")
	fmt.Println("  # Synchronize every session of a cohort and keep a report")
	fmt.Println("  syncdna run --report report.json /data/cohort1")
	fmt.Println()
	fmt.Println("  # Re-check one session without touching the originals")
	fmt.Println("  syncdna --config lab.yaml verify-av /data/cohort1/20240315_142501")
}
