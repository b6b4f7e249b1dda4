package batch

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/brunobiangulo/lexgraph/compliance"
)

func workbook(t *testing.T, rows ...[]interface{}) *bytes.Buffer {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()
	for i, r := range rows {
		require.NoError(t, setRow(f, "Sheet1", i+1, r))
	}
	buf, err := f.WriteToBuffer()
	require.NoError(t, err)
	return buf
}

func TestReadScenarios(t *testing.T) {
	buf := workbook(t,
		[]interface{}{"Detailed Description", "Business Type", "Price Strategy", "Region"},
		[]interface{}{"We fix prices with competitors", "wholesale", "below cost", "EU"},
		[]interface{}{"  ", ""},
		[]interface{}{"", "bakery"},
	)

	got, err := ReadScenarios(buf)
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, 2, got[0].Row)
	assert.Equal(t, compliance.Request{
		Description:  "We fix prices with competitors",
		BusinessType: "wholesale",
		Attributes:   map[string]string{"price_strategy": "below cost", "region": "EU"},
	}, got[0].Request)

	assert.Equal(t, 4, got[1].Row)
	assert.Equal(t, "bakery", got[1].Request.BusinessType)
	assert.Empty(t, got[1].Request.Description)
}

func TestReadScenariosErrors(t *testing.T) {
	_, err := ReadScenarios(workbook(t, []interface{}{"Business Type", "Region"}))
	assert.ErrorIs(t, err, ErrNoDescriptionColumn)

	_, err = ReadScenarios(workbook(t))
	assert.ErrorIs(t, err, ErrNoHeader)

	_, err = ReadScenarios(bytes.NewBufferString("not a workbook"))
	assert.Error(t, err)
}

func TestColumnKey(t *testing.T) {
	assert.Equal(t, "description", columnKey(" Description "))
	assert.Equal(t, "description", columnKey("Detailed-Description"))
	assert.Equal(t, "business_type", columnKey("Industry"))
	assert.Equal(t, "market_behavior", columnKey("Market  Behavior"))
}

func fakeAnalyze(ctx context.Context, req compliance.Request) (*compliance.Result, error) {
	if req.Description == "" {
		return nil, compliance.ErrEmptyRequest
	}
	return &compliance.Result{
		Status:              compliance.StatusViolation,
		RiskLevel:           compliance.RiskHigh,
		Confidence:          0.9512,
		ViolatedRegulations: []string{"Price Fixing (Article 3)"},
		Recommendations:     []string{"Stop it", "Consult counsel"},
		Categories:          []compliance.CategoryScore{{Category: "price_fixing", Title: "Price Fixing"}},
		Request:             req,
	}, nil
}

func TestScreen(t *testing.T) {
	scenarios := []Scenario{
		{Row: 2, Request: compliance.Request{Description: "We fix prices", BusinessType: "wholesale"}},
		{Row: 4, Request: compliance.Request{BusinessType: "bakery"}},
	}

	out := Screen(context.Background(), scenarios, fakeAnalyze)
	require.Len(t, out, 2)
	require.NotNil(t, out[0].Result)
	assert.Equal(t, compliance.StatusViolation, out[0].Result.Status)
	assert.Empty(t, out[0].Err)
	assert.Nil(t, out[1].Result)
	assert.Equal(t, compliance.ErrEmptyRequest.Error(), out[1].Err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	out = Screen(ctx, scenarios, fakeAnalyze)
	assert.Nil(t, out[0].Result)
	assert.Equal(t, context.Canceled.Error(), out[0].Err)
}

func TestWriteReport(t *testing.T) {
	scenarios := []Scenario{
		{Row: 2, Request: compliance.Request{Description: "We fix prices", BusinessType: "wholesale"}},
		{Row: 4, Request: compliance.Request{BusinessType: "bakery"}},
	}
	outcomes := Screen(context.Background(), scenarios, fakeAnalyze)

	var buf bytes.Buffer
	require.NoError(t, WriteReport(&buf, outcomes))

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer f.Close()

	assert.Equal(t, []string{reportSheet, summarySheet}, f.GetSheetList())

	rows, err := f.GetRows(reportSheet)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "Violated Regulations", rows[0][6])

	require.GreaterOrEqual(t, len(rows[1]), 8)
	assert.Equal(t, "2", rows[1][0])
	assert.Equal(t, "wholesale", rows[1][1])
	assert.Equal(t, "Violation", rows[1][3])
	assert.Equal(t, "High", rows[1][4])
	assert.Equal(t, "Price Fixing (Article 3)", rows[1][6])
	assert.Equal(t, "Stop it\nConsult counsel", rows[1][7])

	require.Len(t, rows[2], 9)
	assert.Equal(t, "bakery", rows[2][1])
	assert.Equal(t, compliance.ErrEmptyRequest.Error(), rows[2][8])

	summary, err := f.GetRows(summarySheet)
	require.NoError(t, err)
	metrics := make(map[string]string)
	for _, r := range summary[1:] {
		require.Len(t, r, 2)
		metrics[r[0]] = r[1]
	}
	assert.Equal(t, "2", metrics["Scenarios"])
	assert.Equal(t, "1", metrics["Analysed"])
	assert.Equal(t, "1", metrics["Failed"])
	assert.Equal(t, "1", metrics["Status Violation"])
	assert.Equal(t, "0", metrics["Status Compliant"])
	assert.Equal(t, "1", metrics["Risk High"])
	assert.Equal(t, "1", metrics["Violation Price Fixing"])
}
