package spectral

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// axisPrefix CSV 中轴列的表头前缀，如 AxisX / AxisY / AxisZ
const axisPrefix = "Axis"

// Batch 一次采集的多轴样本，Samples[i] 对应 Axes[i]
type Batch struct {
	Axes    []string
	Samples [][]float64
}

// Len 每轴样本数
func (b *Batch) Len() int {
	if len(b.Samples) == 0 {
		return 0
	}
	return len(b.Samples[0])
}

// LoadBatchCSV 读取带表头的 CSV，以 Axis 开头的列作为轴，其余列忽略
func LoadBatchCSV(r io.Reader) (*Batch, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("empty batch file")
	}
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}

	batch := &Batch{}
	var columns []int
	for i, name := range header {
		name = strings.TrimSpace(strings.TrimPrefix(name, "\ufeff"))
		if strings.HasPrefix(name, axisPrefix) {
			batch.Axes = append(batch.Axes, name)
			columns = append(columns, i)
		}
	}
	if len(columns) == 0 {
		return nil, fmt.Errorf("no %s* columns in header %v", axisPrefix, header)
	}
	batch.Samples = make([][]float64, len(columns))

	for line := 2; ; line++ {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		for j, col := range columns {
			v, err := strconv.ParseFloat(strings.TrimSpace(record[col]), 64)
			if err != nil {
				return nil, fmt.Errorf("line %d column %s: %w", line, batch.Axes[j], err)
			}
			batch.Samples[j] = append(batch.Samples[j], v)
		}
	}

	if batch.Len() == 0 {
		return nil, fmt.Errorf("batch has no samples")
	}
	return batch, nil
}
