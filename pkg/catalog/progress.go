package catalog

// Progress receives transfer events. Calls may arrive concurrently from
// worker goroutines.
type Progress interface {
	// Start is called once per fetch with the number of objects to transfer.
	Start(dataset string, objects int)
	// Done is called when one object finished, successfully or not.
	Done(dataset, identifier string, bytes int64, err error)
	Finish(dataset string)
}

type noProgress struct{}

func (noProgress) Start(string, int) {}
func (noProgress) Done(string, string, int64, error) {}
func (noProgress) Finish(string) {}
