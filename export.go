package main

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
)

// Exporter 赛后数据导出：排行榜历史 CSV、净值曲线 CSV、终榜 JSON。
// 给赛后分析用，不参与竞赛主循环。
type Exporter struct {
	outDir string
}

func NewExporter(outDir string) *Exporter {
	return &Exporter{outDir: outDir}
}

func (ex *Exporter) ensureDir() error {
	return os.MkdirAll(ex.outDir, 0755)
}

// ExportLeaderboardCSV 每周期每名次一行
func (ex *Exporter) ExportLeaderboardCSV(history []*CycleResult) (string, error) {
	if err := ex.ensureDir(); err != nil {
		return "", err
	}
	path := filepath.Join(ex.outDir, "leaderboard_history.csv")
	f, err := os.Create(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	w.Write([]string{"cycle", "rank", "agent_id", "equity", "cum_return", "score"})
	for _, cr := range history {
		for _, e := range cr.Leaderboard {
			w.Write([]string{
				strconv.Itoa(cr.Cycle),
				strconv.Itoa(e.Rank),
				e.AgentID,
				e.Equity.StringFixed(2),
				e.CumReturn.StringFixed(6),
				strconv.FormatFloat(e.Score, 'f', 6, 64),
			})
		}
	}
	w.Flush()
	return path, w.Error()
}

// ExportEquityCurvesCSV 宽表：一行一个周期，一列一个 Agent
func (ex *Exporter) ExportEquityCurvesCSV(tracker *EquityTracker) (string, error) {
	if err := ex.ensureDir(); err != nil {
		return "", err
	}
	path := filepath.Join(ex.outDir, "equity_curves.csv")
	f, err := os.Create(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	curves := tracker.Curves()
	ids := make([]string, 0, len(curves))
	maxLen := 0
	for id, c := range curves {
		ids = append(ids, id)
		if len(c) > maxLen {
			maxLen = len(c)
		}
	}
	sort.Strings(ids)

	w := csv.NewWriter(f)
	w.Write(append([]string{"cycle"}, ids...))
	for i := 0; i < maxLen; i++ {
		row := []string{strconv.Itoa(i + 1)}
		for _, id := range ids {
			c := curves[id]
			if i < len(c) {
				row = append(row, strconv.FormatFloat(c[i], 'f', 2, 64))
			} else {
				row = append(row, "")
			}
		}
		w.Write(row)
	}
	w.Flush()
	return path, w.Error()
}

// ExportFinalJSON 终榜 + 竞赛元信息
func (ex *Exporter) ExportFinalJSON(cl *CompetitionLog) (string, error) {
	if err := ex.ensureDir(); err != nil {
		return "", err
	}
	if len(cl.Cycles) == 0 {
		return "", fmt.Errorf("没有可导出的周期")
	}

	last := cl.Cycles[len(cl.Cycles)-1]
	out := map[string]interface{}{
		"competition_id": cl.CompetitionID,
		"created_at":     cl.CreatedAt,
		"cycles":         len(cl.Cycles),
		"final":          last.Leaderboard,
	}

	raw, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return "", err
	}
	path := filepath.Join(ex.outDir, "final_result.json")
	if err := os.WriteFile(path, raw, 0644); err != nil {
		return "", err
	}
	return path, nil
}
