package server

import (
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/aristath/foliosync/internal/database"
)

// SystemHandlers handles system monitoring endpoints
type SystemHandlers struct {
	log         zerolog.Logger
	dataDir     string
	startupTime time.Time
	ledgerDB    *database.DB
	mirrorDB    *database.DB
}

// NewSystemHandlers creates system handlers
func NewSystemHandlers(log zerolog.Logger, dataDir string, ledgerDB, mirrorDB *database.DB) *SystemHandlers {
	return &SystemHandlers{
		log:         log.With().Str("component", "system_handlers").Logger(),
		dataDir:     dataDir,
		startupTime: time.Now(),
		ledgerDB:    ledgerDB,
		mirrorDB:    mirrorDB,
	}
}

// DBInfo describes one database file.
type DBInfo struct {
	Name      string  `json:"name"`
	SizeMB    float64 `json:"sizeMb"`
	WALSizeMB float64 `json:"walSizeMb"`
	Healthy   bool    `json:"healthy"`
}

// HandleSystemHealth returns process and host health
// GET /api/system/health
func (h *SystemHandlers) HandleSystemHealth(w http.ResponseWriter, r *http.Request) {
	cpuAvg, ramPercent := h.getSystemStats()

	ledgerOK := h.ledgerDB.QuickCheck(r.Context()) == nil
	mirrorOK := h.mirrorDB.QuickCheck(r.Context()) == nil

	status := "healthy"
	if !ledgerOK || !mirrorOK {
		status = "degraded"
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":      status,
		"uptimeHours": time.Since(h.startupTime).Hours(),
		"cpuPercent":  cpuAvg,
		"ramPercent":  ramPercent,
		"databases": map[string]bool{
			"ledger": ledgerOK,
			"mirror": mirrorOK,
		},
	})
}

// HandleDatabaseStats returns database statistics
// GET /api/system/database/stats
func (h *SystemHandlers) HandleDatabaseStats(w http.ResponseWriter, r *http.Request) {
	databases := []DBInfo{}
	totalSizeMB := 0.0

	for _, db := range []*database.DB{h.ledgerDB, h.mirrorDB} {
		info := DBInfo{Name: db.Name()}

		if stats, err := db.GetStats(); err == nil {
			info.SizeMB = float64(stats.SizeBytes) / 1024 / 1024
			info.WALSizeMB = float64(stats.WALSizeBytes) / 1024 / 1024
			totalSizeMB += info.SizeMB + info.WALSizeMB
		} else {
			h.log.Warn().Err(err).Str("database", db.Name()).Msg("Failed to get database stats")
		}

		info.Healthy = db.QuickCheck(r.Context()) == nil
		databases = append(databases, info)
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"databases":   databases,
		"totalSizeMb": totalSizeMB,
	})
}

// HandleDiskUsage returns disk usage of the data directory
// GET /api/system/disk
func (h *SystemHandlers) HandleDiskUsage(w http.ResponseWriter, r *http.Request) {
	dataDirMB := h.getDirSize(h.dataDir)

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"dataDirMb": dataDirMB,
	})
}

// getSystemStats calculates CPU and RAM usage percentages.
// Uses a 100ms CPU sampling interval to keep the endpoint responsive.
func (h *SystemHandlers) getSystemStats() (float64, float64) {
	cpuPercent, err := cpu.Percent(100*time.Millisecond, false)
	if err != nil {
		h.log.Warn().Err(err).Msg("Failed to get CPU percentage")
		cpuPercent = []float64{0}
	}

	memStat, err := mem.VirtualMemory()
	if err != nil {
		h.log.Warn().Err(err).Msg("Failed to get memory statistics")
		return 0, 0
	}

	cpuAvg := 0.0
	if len(cpuPercent) > 0 {
		cpuAvg = cpuPercent[0]
	}

	return cpuAvg, memStat.UsedPercent
}

// getDirSize calculates total size of a directory in MB
func (h *SystemHandlers) getDirSize(dirPath string) float64 {
	var totalSize int64

	err := filepath.Walk(dirPath, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		if !info.IsDir() {
			totalSize += info.Size()
		}
		return nil
	})

	if err != nil {
		h.log.Warn().Err(err).Str("dir", dirPath).Msg("Failed to calculate directory size")
		return 0
	}

	return float64(totalSize) / 1024 / 1024
}
