package service

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/xuri/excelize/v2"
)

// exportBatchSize 导出时单页拉取的记录数上限
const exportBatchSize = 500

// exportMaxRecords 单次导出的记录总数上限
const exportMaxRecords = 5000

// verificationExportHeader 审计导出表头
var verificationExportHeader = []string{
	"Bill Number",
	"Issuer Name",
	"Bill Type",
	"Result",
	"Disclosure Level",
	"Fee Charged",
	"Was Free",
	"Pricing Rule",
	"Verified At",
}

// ExportHistory 导出请求方的校验审计记录为 Excel 文件
func (s *verificationService) ExportHistory(ctx context.Context, verifierID string) ([]byte, error) {
	f := excelize.NewFile()
	// 注意：这里不能 defer Close()，WriteTo 需要文件保持打开

	sheetName := "Verifications"
	index, err := f.NewSheet(sheetName)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to create sheet: %w", err)
	}
	f.DeleteSheet("Sheet1")
	f.SetActiveSheet(index)

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{
			Type:    "pattern",
			Color:   []string{"#E6F3FF"},
			Pattern: 1,
		},
		Alignment: &excelize.Alignment{
			Horizontal: "center",
			Vertical:   "center",
		},
	})
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to create header style: %w", err)
	}

	for col, header := range verificationExportHeader {
		cell, err := excelize.CoordinatesToCellName(col+1, 1)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to convert coordinates: %w", err)
		}
		if err := f.SetCellValue(sheetName, cell, header); err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to set header cell %s: %w", cell, err)
		}
		if err := f.SetCellStyle(sheetName, cell, cell, headerStyle); err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to set header style: %w", err)
		}
	}

	columnWidths := []float64{20, 25, 18, 12, 15, 12, 10, 25, 22}
	for i := range verificationExportHeader {
		col, err := excelize.ColumnNumberToName(i + 1)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to convert column number: %w", err)
		}
		if err := f.SetColWidth(sheetName, col, col, columnWidths[i]); err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to set column width: %w", err)
		}
	}

	// 分页拉取，避免一次性加载全部历史
	row := 2
	for offset := 0; offset < exportMaxRecords; offset += exportBatchSize {
		verifications, err := s.verificationsRepo.ListByVerifier(ctx, verifierID, exportBatchSize, offset)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to list verifications: %w", err)
		}
		if len(verifications) == 0 {
			break
		}

		for _, v := range verifications {
			issuerName := ""
			billType := ""
			if v.BillID != nil {
				if bill, err := s.billsRepo.GetByID(ctx, *v.BillID); err == nil {
					issuerName = bill.IssuerName
					billType = string(bill.BillType)
				}
			}

			wasFree := "No"
			if v.WasFree {
				wasFree = "Yes"
			}

			values := []any{
				v.BillNumber,
				issuerName,
				billType,
				string(v.VerificationStatus),
				string(v.DisclosureLevel),
				v.AmountCharged,
				wasFree,
				v.PricingRuleApplied,
				v.VerifiedAt.Format(time.RFC3339),
			}
			for col, value := range values {
				cell, err := excelize.CoordinatesToCellName(col+1, row)
				if err != nil {
					f.Close()
					return nil, fmt.Errorf("failed to convert coordinates: %w", err)
				}
				if err := f.SetCellValue(sheetName, cell, value); err != nil {
					f.Close()
					return nil, fmt.Errorf("failed to set cell %s: %w", cell, err)
				}
			}
			row++
		}

		if len(verifications) < exportBatchSize {
			break
		}
	}

	var buf bytes.Buffer
	if _, err := f.WriteTo(&buf); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to write excel file: %w", err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("failed to close excel file: %w", err)
	}
	return buf.Bytes(), nil
}
