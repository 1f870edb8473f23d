package report

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"safesleep-telemetry/internal/models"
)

const readingsSheet = "Readings"

var readingHeaders = []string{"ID", "Name", "Timestamp", "Value"}

// ExportReadings 将 [from, to] 区间内匹配 pattern 的读数写成 xlsx，返回导出条数
func (s *Service) ExportReadings(ctx context.Context, w io.Writer, pattern, from, to string) (int, error) {
	readings, err := s.readings.ListReadingsBetween(ctx, pattern, from, to)
	if err != nil {
		return 0, fmt.Errorf("failed to list readings: %w", err)
	}

	f, err := buildReadingsWorkbook(readings)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	if _, err := f.WriteTo(w); err != nil {
		return 0, fmt.Errorf("failed to write workbook: %w", err)
	}

	s.logger.Info("Readings exported",
		zap.String("pattern", pattern),
		zap.String("from", from),
		zap.String("to", to),
		zap.Int("count", len(readings)),
	)
	return len(readings), nil
}

func buildReadingsWorkbook(readings []*models.Reading) (*excelize.File, error) {
	f := excelize.NewFile()

	index, err := f.NewSheet(readingsSheet)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to create sheet: %w", err)
	}
	f.SetActiveSheet(index)
	if err := f.DeleteSheet("Sheet1"); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to delete default sheet: %w", err)
	}

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#E6F3FF"}, Pattern: 1},
	})
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to create header style: %w", err)
	}

	for col, header := range readingHeaders {
		cell, err := excelize.CoordinatesToCellName(col+1, 1)
		if err != nil {
			f.Close()
			return nil, err
		}
		if err := f.SetCellValue(readingsSheet, cell, header); err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to set header cell %s: %w", cell, err)
		}
		if err := f.SetCellStyle(readingsSheet, cell, cell, headerStyle); err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to set header style: %w", err)
		}
	}
	if err := f.SetColWidth(readingsSheet, "B", "C", 22); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to set column width: %w", err)
	}

	for i, r := range readings {
		row := i + 2
		// 数值文本按数字写入，其余原样保留
		var value any = r.Value
		if v, err := strconv.ParseFloat(strings.TrimSpace(r.Value), 64); err == nil {
			value = v
		}
		for col, v := range []any{r.ID, r.Name, r.Timestamp, value} {
			cell, err := excelize.CoordinatesToCellName(col+1, row)
			if err != nil {
				f.Close()
				return nil, err
			}
			if err := f.SetCellValue(readingsSheet, cell, v); err != nil {
				f.Close()
				return nil, fmt.Errorf("failed to set cell %s: %w", cell, err)
			}
		}
	}

	if err := f.SetPanes(readingsSheet, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	}); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to freeze panes: %w", err)
	}

	return f, nil
}
