/*Package beamtime holds the user-facing pieces of an experiment: samples,
plan descriptors, and the count plan that turns an exposure time into frames.
*/
package beamtime

import "github.com/xpdacq/acq/runengine"

// MetadataSource is anything that can describe itself as run metadata
type MetadataSource interface {
	MD() runengine.Metadata
}

// Dict is a plain metadata mapping used as a sample
type Dict runengine.Metadata

// MD returns a copy of the mapping
func (d Dict) MD() runengine.Metadata {
	out := make(runengine.Metadata, len(d))
	for k, v := range d {
		out[k] = v
	}
	return out
}

// Sample is a sample on the beamline
type Sample struct {
	// Name is the sample name
	Name string

	// Composition is a chemical formula, e.g. "NaCl"
	Composition string

	// Extra is additional metadata; the named fields above win over it
	Extra runengine.Metadata
}

// MD returns the sample metadata
func (s *Sample) MD() runengine.Metadata {
	own := runengine.Metadata{
		"sa_name":            s.Name,
		"sample_name":        s.Name,
		"sample_composition": s.Composition,
	}
	return runengine.Layer(own, s.Extra)
}
