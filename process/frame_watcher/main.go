package main

import (
	"encoding/json"
	"flag"
	"image"
	"image/draw"
	"log"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/disintegration/imaging"
	"github.com/fsnotify/fsnotify"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"docscan/models"
	"docscan/pkg/qrscan"
)

// Global DB handle for helper funcs
var db *gorm.DB

var (
	verbose bool
	scanner *qrscan.Scanner
)

// MIME mapping to avoid opening files repeatedly
var extMime = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".gif":  "image/gif",
	".webp": "image/webp",
}

// preload cache of already-recorded frames, keyed by file name
type preloadState struct {
	uploadsByFile map[string]*models.Upload
	mu            sync.RWMutex
}

func newPreloadState() *preloadState {
	return &preloadState{uploadsByFile: make(map[string]*models.Upload, 1024)}
}

func (ps *preloadState) getUpload(name string) (*models.Upload, bool) {
	ps.mu.RLock()
	defer ps.mu.RUnlock()
	u, ok := ps.uploadsByFile[name]
	return u, ok
}
func (ps *preloadState) putUpload(u *models.Upload) {
	ps.mu.Lock()
	ps.uploadsByFile[u.FileName] = u
	ps.mu.Unlock()
}

func mustInitDBFromEnv() *gorm.DB {
	dsn := os.Getenv("DB_DSN")
	if dsn == "" {
		log.Fatalf("DB_DSN must be set in environment to run this tool")
	}
	gdb, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}
	return gdb
}

// Main: scans a directory of camera frames, creates Upload rows, decodes QR
// codes into QRScan rows, optional watch mode.
func main() {
	dirFlag := flag.String("dir", "uploads/frames", "directory to scan for camera frames")
	profileID := flag.Uint("profile-id", 0, "Profile ID to assign frames to (if omitted attempts admin profile)")
	dryRun := flag.Bool("dry-run", false, "Skip all DB writes; just decode and print what was found")
	watch := flag.Bool("watch", false, "Watch directory for new files")
	workers := flag.Int("workers", 0, "Worker pool size (default NumCPU)")
	exhaustive := flag.Bool("exhaustive", false, "Scan every region even after the first match")
	flag.BoolVar(&verbose, "verbose", false, "Verbose per-file logging")
	flag.Parse()

	opts := []qrscan.Option{qrscan.WithLogger(log.Default())}
	if *exhaustive {
		opts = append(opts, qrscan.WithPolicy(qrscan.Exhaustive))
	}
	scanner = qrscan.NewScanner(opts...)

	if *dryRun {
		log.Printf("Dry-run: scanning %s (no DB interaction)", *dirFlag)
		files := listImageFiles(*dirFlag)
		log.Printf("Found %d candidate files", len(files))
		for _, f := range files {
			results, err := decodeFrame(filepath.Join(*dirFlag, f))
			if err != nil {
				logV("decode fail %s: %v", f, err)
				continue
			}
			for _, r := range results {
				log.Printf("QR %s payload=%q corner=(%.0f,%.0f)", f, r.Payload, r.Bounds[0].X, r.Bounds[0].Y)
			}
		}
		return
	}

	db = mustInitDBFromEnv()
	profile := resolveProfile(*profileID)
	ps := preloadAll(profile)
	log.Printf("Preloaded: frames=%d", len(ps.uploadsByFile))

	files := listImageFiles(*dirFlag)
	log.Printf("Scanning %d files (workers=%d)", len(files), effectiveWorkers(*workers))
	runWorkerPool(*dirFlag, profile, ps, files, effectiveWorkers(*workers))

	if *watch {
		if err := watchDirectory(*dirFlag, profile, ps, effectiveWorkers(*workers)); err != nil {
			log.Fatalf("watch failed: %v", err)
		}
	}
}

func effectiveWorkers(w int) int {
	if w <= 0 {
		return runtime.NumCPU()
	}
	return w
}

func logV(format string, args ...any) {
	if verbose {
		log.Printf(format, args...)
	}
}

// preloadAll fetches existing frame records to minimize per-file queries.
func preloadAll(profile models.Profile) *preloadState {
	ps := newPreloadState()
	var ups []models.Upload
	if err := db.Where("profile_id = ?", profile.ID).Find(&ups).Error; err == nil {
		for i := range ups {
			u := ups[i]
			ps.uploadsByFile[u.FileName] = &u
		}
	}
	return ps
}

// resolveProfile finds the profile either by explicit id or by admin username.
func resolveProfile(id uint) models.Profile {
	var p models.Profile
	if id != 0 {
		if err := db.First(&p, id).Error; err != nil {
			log.Fatalf("failed to find profile id %d: %v", id, err)
		}
		return p
	}
	var admin models.User
	if err := db.Where("username = ?", "admin").First(&admin).Error; err != nil {
		log.Fatalf("no --profile-id provided and admin user not found: %v", err)
	}
	if err := db.Where("user_id = ?", admin.ID).First(&p).Error; err != nil {
		log.Fatalf("admin profile not found: %v", err)
	}
	return p
}

func listImageFiles(dir string) []string {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if !isSupportedExt(e.Name()) {
			continue
		}
		out = append(out, e.Name())
	}
	sort.Strings(out)
	return out
}

func watchDirectory(dir string, profile models.Profile, ps *preloadState, workers int) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()
	if err := w.Add(dir); err != nil {
		return err
	}
	log.Printf("Watching %s (debounced) ...", dir)

	fileCh := make(chan string, 256)
	go func() {
		// simple debounce map of pending files
		pending := map[string]time.Time{}
		ticker := time.NewTicker(250 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case ev, ok := <-w.Events:
				if !ok {
					close(fileCh)
					return
				}
				if ev.Op&fsnotify.Create == fsnotify.Create {
					name := filepath.Base(ev.Name)
					if !isSupportedExt(name) {
						continue
					}
					pending[name] = time.Now()
				}
			case <-ticker.C:
				now := time.Now()
				for name, t := range pending {
					if now.Sub(t) > 300*time.Millisecond { // stable
						fileCh <- name
						delete(pending, name)
					}
				}
			case err, ok := <-w.Errors:
				if !ok {
					close(fileCh)
					return
				}
				log.Printf("watch error: %v", err)
			}
		}
	}()

	// Use worker pool for watch events too
	go runWorkerPool(dir, profile, ps, nil, workers, fileCh)
	// block forever (Ctrl+C to exit)
	select {}
}

func isSupportedExt(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	switch ext {
	case ".png", ".jpg", ".jpeg", ".gif", ".webp":
		return true
	}
	return false
}

// worker pool orchestrator
func runWorkerPool(dir string, profile models.Profile, ps *preloadState, initial []string, workers int, extraCh ...<-chan string) {
	fileCh := make(chan string, 1024)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for name := range fileCh {
				processFrame(dir, name, profile, ps)
			}
		}()
	}
	// feed initial
	go func() {
		for _, f := range initial {
			fileCh <- f
		}
		// also relay from extra channels if provided
		for _, ch := range extraCh {
			go func(c <-chan string) {
				for n := range c {
					fileCh <- n
				}
			}(ch)
		}
		// if no extraCh (scan only) close when done
		if len(extraCh) == 0 {
			close(fileCh)
		}
	}()
	if len(extraCh) == 0 {
		wg.Wait()
	}
}

// decodeFrame opens an image file and runs the two-pass QR pipeline on it.
func decodeFrame(path string) ([]qrscan.Result, error) {
	img, err := imaging.Open(path)
	if err != nil {
		return nil, err
	}
	b := img.Bounds()
	rgba := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(rgba, rgba.Bounds(), img, b.Min, draw.Src)
	return scanner.DecodeRGBA(rgba.Pix, b.Dx(), b.Dy())
}

// processFrame records a single frame and its decoded QR symbols, idempotently.
func processFrame(dir, name string, profile models.Profile, ps *preloadState) {
	filePath := filepath.Join(dir, name)

	if up, ok := ps.getUpload(name); ok && !up.Failed {
		logV("SKIP frame already processed %s", name)
		return
	}

	up, upExists := ps.getUpload(name)
	if !upExists {
		newUp := models.Upload{ProfileID: profile.ID, FileName: name, StorePath: filepath.ToSlash(filepath.Join(filepath.Base(dir), name))}
		if ct := mimeFromExt(name); ct != "" {
			newUp.ContentType = ct
		}
		if err := db.Create(&newUp).Error; err != nil {
			if isUniqueConstraintError(err) { // race: someone else created
				if err2 := db.Where("profile_id = ? AND file_name = ?", profile.ID, name).First(&newUp).Error; err2 != nil {
					log.Printf("WARN fetch after race failed %s: %v", name, err2)
					return
				}
			} else {
				log.Printf("ERROR create frame %s: %v", name, err)
				return
			}
		}
		ps.putUpload(&newUp)
		up = &newUp
		log.Printf("NEW frame id=%d file=%s", newUp.ID, name)
	}

	img, err := imaging.Open(filePath)
	if err != nil {
		up.Failed = true
		up.FailedReason = "undecodable image"
		_ = db.Save(up).Error
		logV("decode fail %s: %v", name, err)
		return
	}
	up.Width = img.Bounds().Dx()
	up.Height = img.Bounds().Dy()

	b := img.Bounds()
	rgba := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(rgba, rgba.Bounds(), img, b.Min, draw.Src)
	results, err := scanner.DecodeRGBA(rgba.Pix, b.Dx(), b.Dy())
	if err != nil || len(results) == 0 {
		up.Failed = true
		up.FailedReason = "no qr codes found"
		_ = db.Save(up).Error
		logV("no codes in %s", name)
		return
	}
	up.Failed = false
	up.FailedReason = ""
	_ = db.Save(up).Error

	for _, res := range results {
		boundsJSON, _ := json.Marshal(res.Bounds)
		scan := models.QRScan{
			UserID:   profile.UserID,
			UploadID: &up.ID,
			Payload:  res.Payload,
			Version:  res.Version,
			Bounds:   string(boundsJSON),
		}
		if err := db.Create(&scan).Error; err != nil {
			log.Printf("ERROR create scan %s: %v", name, err)
			continue
		}
		log.Printf("SCAN payload=%q file=%s frame=%d", res.Payload, name, up.ID)
	}
}

func mimeFromExt(name string) string {
	ext := strings.ToLower(filepath.Ext(name))
	if m, ok := extMime[ext]; ok {
		return m
	}
	return ""
}

func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	s := err.Error()
	return strings.Contains(s, "duplicate key") || strings.Contains(s, "unique constraint") || strings.Contains(s, "already exists")
}
