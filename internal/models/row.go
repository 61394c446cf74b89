package models

// Row is a fetched record headed for CSV persistence. Both Candle and
// FundingRate satisfy it, which lets the fetch pipeline and the saver stay
// agnostic of the record type.
type Row interface {
	// Time returns the record timestamp in milliseconds since the Unix
	// epoch, UTC.
	Time() int64
	// Record returns the CSV field values, timestamp included, in the same
	// order as the dataset's column header.
	Record() []string
}
