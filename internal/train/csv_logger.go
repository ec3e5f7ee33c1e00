package train

import (
	"encoding/csv"
	"os"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"
)

// CSVLogger logs every evaluation to a CSV file.
type CSVLogger struct {
	BaseCallback
	Filename string
	Append   bool

	file   *os.File
	writer *csv.Writer
	start  time.Time
}

// NewCSVLogger creates a new CSVLogger.
func NewCSVLogger(filename string, append bool) *CSVLogger {
	return &CSVLogger{
		Filename: filename,
		Append:   append,
	}
}

func (c *CSVLogger) OnTrainBegin(m Model, steps int) {
	mode := os.O_CREATE | os.O_WRONLY
	if c.Append {
		mode |= os.O_APPEND
	} else {
		mode |= os.O_TRUNC
	}

	file, err := os.OpenFile(c.Filename, mode, 0644)
	if err != nil {
		log.Error().Err(err).Str("file", c.Filename).Msg("CSVLogger: failed to open file")
		return
	}
	c.file = file
	c.writer = csv.NewWriter(file)
	c.start = time.Now()

	// Write header if not appending or if file is empty
	info, err := file.Stat()
	if err == nil && (info.Size() == 0 || !c.Append) {
		c.writer.Write([]string{"step", "train_loss", "test_loss", "time_seconds"})
		c.writer.Flush()
	}
}

func (c *CSVLogger) OnEvaluate(ev Evaluation, m Model) {
	if c.writer == nil {
		return
	}

	record := []string{
		strconv.Itoa(ev.Step),
		strconv.FormatFloat(ev.TrainLoss, 'f', 6, 64),
		strconv.FormatFloat(ev.TestLoss, 'f', 6, 64),
		strconv.FormatFloat(time.Since(c.start).Seconds(), 'f', 2, 64),
	}

	if err := c.writer.Write(record); err != nil {
		log.Error().Err(err).Msg("CSVLogger: failed to write record")
	}
	c.writer.Flush()
}

func (c *CSVLogger) OnTrainEnd(m Model, h *History) {
	if c.file != nil {
		c.writer.Flush()
		c.file.Close()
		c.file = nil
		c.writer = nil
	}
}
