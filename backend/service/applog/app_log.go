package applog

import (
	"errors"
	"io"
	"os"
	"time"
)

const maxLogChunkBytes int64 = 512 * 1024

// Chunk 日志文件的一段增量内容（from/to 为字节偏移，lost 表示文件被截断过）
type Chunk struct {
	Path string `json:"path,omitempty"`
	From int64  `json:"from"`
	To   int64  `json:"to"`
	End  int64  `json:"end"`
	Lost bool   `json:"lost"`
	Text string `json:"text"`

	Error string `json:"error,omitempty"`
}

type AppLogSnapshot struct {
	Running   bool   `json:"running"`
	Pid       int    `json:"pid,omitempty"`
	StartedAt string `json:"startedAt,omitempty"`
	Chunk
}

// LogsSince 读取应用日志自 since 偏移之后的内容
func LogsSince(path string, since int64, pid int, startedAt time.Time) AppLogSnapshot {
	snap := AppLogSnapshot{
		Running: true,
		Pid:     pid,
		Chunk:   ReadChunk(path, since),
	}
	if !startedAt.IsZero() {
		snap.StartedAt = startedAt.Format(time.RFC3339Nano)
	}
	return snap
}

// ReadChunk 按偏移读取任意日志文件，单次最多 512KB
func ReadChunk(path string, since int64) Chunk {
	c := Chunk{Path: path}
	if path == "" {
		return c
	}
	from, to, end, lost, text, err := readLogChunk(path, since, maxLogChunkBytes)
	c.From, c.To, c.End, c.Lost, c.Text = from, to, end, lost, text
	if err != nil {
		c.Error = err.Error()
	}
	return c
}

func readLogChunk(path string, since, maxBytes int64) (from, to, end int64, lost bool, text string, err error) {
	if maxBytes <= 0 {
		return 0, 0, 0, false, "", errors.New("maxBytes must be > 0")
	}
	if since < 0 {
		since = 0
	}

	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, 0, 0, false, "", nil
		}
		return 0, 0, 0, false, "", err
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		return 0, 0, 0, false, "", err
	}
	end = st.Size()

	from = since
	if from > end {
		from = 0
		lost = true
	}

	if _, err := f.Seek(from, io.SeekStart); err != nil {
		return 0, 0, 0, false, "", err
	}
	if end-from <= 0 {
		return from, from, end, lost, "", nil
	}

	data, err := io.ReadAll(io.LimitReader(f, min(end-from, maxBytes)))
	if err != nil {
		return 0, 0, 0, false, "", err
	}
	to = from + int64(len(data))
	return from, to, end, lost, string(data), nil
}
