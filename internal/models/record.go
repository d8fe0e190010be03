package models

import "coldwatch/internal/document"

// MonitoredRecord is one equipment card found on the dashboard. It lives
// only for the duration of a scan.
type MonitoredRecord struct {
	Label string
	Node  document.Node
}
