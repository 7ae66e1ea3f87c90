package reports

import (
	"fmt"
)

// NewReportGenerator creates a report generator based on the report type and format.
func NewReportGenerator(reportType ReportType, format ReportFormat, s ReportStore) (Generator, error) {
	if format == "" {
		format = ReportFormatCSV
	}
	if format != ReportFormatCSV && format != ReportFormatJSON {
		return nil, fmt.Errorf("unknown report format: %s", format)
	}

	switch reportType {
	case ReportTypeStudy:
		return &StudyReport{store: s, format: format}, nil
	case ReportTypeStudies:
		return &StudyIndexReport{store: s, format: format}, nil
	default:
		return nil, fmt.Errorf("unknown report type: %s", reportType)
	}
}
