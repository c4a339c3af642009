package main

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"
)

// WebServer 竞赛监控面板：REST 查询 + WebSocket 实时推送。
// 只读接口随便看，控制接口（暂停/恢复/解禁）只接受 POST。
type WebServer struct {
	comp    *Competition
	storage *Storage
	bus     *Broadcaster
	port    int

	upgrader websocket.Upgrader
}

func NewWebServer(comp *Competition, storage *Storage, bus *Broadcaster, port int) *WebServer {
	return &WebServer{
		comp:    comp,
		storage: storage,
		bus:     bus,
		port:    port,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Start 启动 HTTP 服务（独立协程，失败只记日志不拖垮竞赛）
func (ws *WebServer) Start() {
	mux := http.NewServeMux()
	mux.HandleFunc("/", ws.handleIndex)
	mux.HandleFunc("/api/state", ws.handleState)
	mux.HandleFunc("/api/leaderboard", ws.handleLeaderboard)
	mux.HandleFunc("/api/portfolios", ws.handlePortfolios)
	mux.HandleFunc("/api/history", ws.handleHistory)
	mux.HandleFunc("/api/agents", ws.handleAgents)
	mux.HandleFunc("/api/pause", ws.handlePause)
	mux.HandleFunc("/api/resume", ws.handleResume)
	mux.HandleFunc("/api/agents/reinstate", ws.handleReinstate)
	mux.HandleFunc("/ws", ws.handleWebSocket)

	addr := fmt.Sprintf(":%d", ws.port)
	go func() {
		log.Printf("🌐 监控面板: http://localhost%s", addr)
		if err := http.ListenAndServe(addr, mux); err != nil {
			log.Printf("⚠️ Web 服务退出: %v", err)
		}
	}()
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func (ws *WebServer) handleState(w http.ResponseWriter, r *http.Request) {
	state := map[string]interface{}{
		"competition_id": ws.comp.ID,
		"status":         ws.comp.Status(),
		"cycle":          ws.comp.Cycle(),
		"instruments":    ws.comp.provider.Instruments(),
	}
	if reason := ws.comp.FailReason(); reason != "" {
		state["fail_reason"] = reason
	}
	writeJSON(w, 200, state)
}

func (ws *WebServer) handleLeaderboard(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, 200, ws.comp.Leaderboard())
}

func (ws *WebServer) handlePortfolios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, 200, ws.comp.Portfolios())
}

// handleHistory 最近 N 个周期结果，默认 50
func (ws *WebServer) handleHistory(w http.ResponseWriter, r *http.Request) {
	if ws.storage == nil {
		writeJSON(w, 200, []*CycleResult{})
		return
	}
	history := ws.storage.History()

	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	if len(history) > limit {
		history = history[len(history)-limit:]
	}
	writeJSON(w, 200, history)
}

func (ws *WebServer) handleAgents(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, 200, ws.comp.Manager().States())
}

func (ws *WebServer) handlePause(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, 405, map[string]string{"error": "POST only"})
		return
	}
	if err := ws.comp.Pause(); err != nil {
		writeJSON(w, 409, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, 200, map[string]string{"result": "pause requested"})
}

func (ws *WebServer) handleResume(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, 405, map[string]string{"error": "POST only"})
		return
	}
	if err := ws.comp.Resume(); err != nil {
		writeJSON(w, 409, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, 200, map[string]string{"result": "resumed"})
}

func (ws *WebServer) handleReinstate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, 405, map[string]string{"error": "POST only"})
		return
	}
	id := r.URL.Query().Get("id")
	if id == "" {
		writeJSON(w, 400, map[string]string{"error": "缺少 id 参数"})
		return
	}
	if err := ws.comp.Manager().Reinstate(id); err != nil {
		writeJSON(w, 409, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, 200, map[string]string{"result": "reinstated: " + id})
}

// handleWebSocket 把事件总线桥接到 WebSocket 连接
func (ws *WebServer) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := ws.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("⚠️ WebSocket 升级失败: %v", err)
		return
	}
	defer conn.Close()

	events, cancel := ws.bus.Subscribe(128)
	defer cancel()

	// 读协程只为感知客户端断开
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		case <-closed:
			return
		}
	}
}

const indexHTML = `<!DOCTYPE html>
<html lang="zh">
<head>
<meta charset="UTF-8">
<title>AI Trading Arena</title>
<style>
body { font-family: -apple-system, "PingFang SC", sans-serif; background: #0d1117; color: #e6edf3; margin: 24px; }
h1 { font-size: 20px; }
table { border-collapse: collapse; margin-top: 12px; min-width: 480px; }
th, td { padding: 6px 14px; border-bottom: 1px solid #30363d; text-align: right; }
th { color: #8b949e; font-weight: normal; }
td:first-child, th:first-child { text-align: center; }
td:nth-child(2), th:nth-child(2) { text-align: left; }
.status { color: #8b949e; margin-top: 4px; }
.up { color: #3fb950; } .down { color: #f85149; }
</style>
</head>
<body>
<h1>🏟 AI Trading Arena</h1>
<div class="status" id="state">loading...</div>
<table>
<thead><tr><th>#</th><th>Agent</th><th>净值</th><th>收益率</th></tr></thead>
<tbody id="board"></tbody>
</table>
<script>
async function refresh() {
  const st = await (await fetch('/api/state')).json();
  document.getElementById('state').textContent =
    st.competition_id + ' | ' + st.status + ' | 周期 #' + st.cycle;
  const board = await (await fetch('/api/leaderboard')).json();
  document.getElementById('board').innerHTML = board.map(e => {
    const ret = (parseFloat(e.cum_return) * 100).toFixed(2);
    const cls = ret >= 0 ? 'up' : 'down';
    return '<tr><td>' + e.rank + '</td><td>' + e.agent_id + '</td><td>' +
      parseFloat(e.equity).toFixed(2) + '</td><td class="' + cls + '">' + ret + '%</td></tr>';
  }).join('');
}
refresh();
setInterval(refresh, 3000);
const proto = location.protocol === 'https:' ? 'wss://' : 'ws://';
const sock = new WebSocket(proto + location.host + '/ws');
sock.onmessage = () => refresh();
</script>
</body>
</html>`

func (ws *WebServer) handleIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprint(w, indexHTML)
}
