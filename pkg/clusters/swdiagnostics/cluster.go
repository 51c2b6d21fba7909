// Package swdiagnostics implements the Software Diagnostics Cluster (0x0034).
//
// The Software Diagnostics cluster exposes information about the state of
// the node's software, such as heap utilization and running threads, and
// lets an administrator reset the high-watermark attributes.
//
// Spec Reference: Section 11.13
//
// C++ Reference: src/app/clusters/software-diagnostics-server/software-diagnostics-server.cpp
package swdiagnostics

import (
	"context"

	"github.com/matterkeep/sessiond/pkg/datamodel"
	"github.com/matterkeep/sessiond/pkg/tlv"
)

// Cluster constants.
const (
	ClusterID       datamodel.ClusterID = 0x0034
	ClusterRevision uint16              = 1
)

// Attribute IDs (Spec 11.13.5).
const (
	AttrThreadMetrics            datamodel.AttributeID = 0x0000
	AttrCurrentHeapFree          datamodel.AttributeID = 0x0001
	AttrCurrentHeapUsed          datamodel.AttributeID = 0x0002
	AttrCurrentHeapHighWatermark datamodel.AttributeID = 0x0003
)

// Command IDs (Spec 11.13.7).
const (
	CmdResetWatermarks datamodel.CommandID = 0x0000
)

// Event IDs (Spec 11.13.8).
const (
	EventSoftwareFault datamodel.EventID = 0x00
)

// Feature bits (Spec 11.13.4).
type Feature uint32

const (
	// FeatureWaterMarks indicates the node supports the CurrentHeapHighWatermark
	// attribute and the ResetWatermarks command.
	FeatureWaterMarks Feature = 1 << 0 // WATERMARKS
)

// ThreadMetrics describes a single running thread (Spec 11.13.6.1).
type ThreadMetrics struct {
	// ID is an implementation-defined unique thread identifier.
	ID uint64

	// Name is an optional, implementation-defined thread name (max 8 chars).
	Name *string

	// StackFreeCurrent is the current unused stack space, in bytes.
	StackFreeCurrent *uint32

	// StackFreeMinimum is the lowest recorded unused stack space, in bytes.
	StackFreeMinimum *uint32

	// StackSize is the total stack size allocated for the thread, in bytes.
	StackSize *uint32
}

// SoftwareFault describes a fault recorded for a software thread or process
// (Spec 11.13.6.2), carried by the SoftwareFault event.
type SoftwareFault struct {
	// ID is the ID of the thread or process where the fault occurred.
	ID uint64

	// Name is an optional name for the faulting thread or process.
	Name *string

	// FaultRecording is optional implementation-defined fault data.
	FaultRecording []byte
}

// DataProvider supplies the live diagnostic data backing this cluster.
// It's grounded on CHIP's DiagnosticDataProvider platform interface: each
// getter may report the value as unsupported, in which case the cluster
// reports 0 (or an empty list) rather than failing the read.
type DataProvider interface {
	// SupportsWatermarks reports whether the high-watermark attribute and
	// the ResetWatermarks command are implemented on this node.
	SupportsWatermarks() bool

	// CurrentHeapFree returns the current free heap size, in bytes.
	// ok is false if the platform cannot report this value.
	CurrentHeapFree() (value uint64, ok bool)

	// CurrentHeapUsed returns the current heap usage, in bytes.
	// ok is false if the platform cannot report this value.
	CurrentHeapUsed() (value uint64, ok bool)

	// CurrentHeapHighWatermark returns the highest heap usage recorded since
	// boot or the last ResetWatermarks, in bytes. ok is false if the
	// platform cannot report this value.
	CurrentHeapHighWatermark() (value uint64, ok bool)

	// ThreadMetrics returns a snapshot of the node's running threads.
	// ok is false if the platform does not expose thread metrics, in which
	// case the cluster reports an empty list.
	ThreadMetrics() (metrics []ThreadMetrics, ok bool)

	// ResetWatermarks sets CurrentHeapHighWatermark back to CurrentHeapUsed.
	ResetWatermarks() error
}

// Config provides dependencies for the Software Diagnostics cluster.
type Config struct {
	// EndpointID is the endpoint this cluster belongs to.
	EndpointID datamodel.EndpointID

	// Data provides the live diagnostic readings.
	Data DataProvider

	// EventPublisher for the SoftwareFault event.
	// Optional - if nil, OnSoftwareFault is a no-op.
	EventPublisher datamodel.EventPublisher
}

// Cluster implements the Software Diagnostics cluster (0x0034).
type Cluster struct {
	*datamodel.ClusterBase
	*datamodel.EventSource
	config Config

	attrList []datamodel.AttributeEntry
	cmdList  []datamodel.CommandEntry
}

// New creates a new Software Diagnostics cluster.
func New(cfg Config) *Cluster {
	c := &Cluster{
		ClusterBase: datamodel.NewClusterBase(ClusterID, cfg.EndpointID, ClusterRevision),
		EventSource: datamodel.NewEventSource(),
		config:      cfg,
	}

	var features uint32
	if cfg.Data != nil && cfg.Data.SupportsWatermarks() {
		features |= uint32(FeatureWaterMarks)
	}
	c.SetFeatureMap(features)

	if cfg.EventPublisher != nil {
		c.EventSource.Bind(cfg.EndpointID, ClusterID, cfg.EventPublisher)
		c.EventSource.RegisterEvent(datamodel.NewEventEntry(
			EventSoftwareFault,
			datamodel.EventPriorityCritical,
			datamodel.PrivilegeView,
			false,
		))
	}

	c.attrList = c.buildAttributeList()
	c.cmdList = c.buildCommandList()

	return c
}

func (c *Cluster) buildAttributeList() []datamodel.AttributeEntry {
	viewPriv := datamodel.PrivilegeView

	attrs := []datamodel.AttributeEntry{
		datamodel.NewReadOnlyAttribute(AttrThreadMetrics, datamodel.AttrQualityList, viewPriv),
		datamodel.NewReadOnlyAttribute(AttrCurrentHeapFree, 0, viewPriv),
		datamodel.NewReadOnlyAttribute(AttrCurrentHeapUsed, 0, viewPriv),
	}

	if c.config.Data != nil && c.config.Data.SupportsWatermarks() {
		attrs = append(attrs, datamodel.NewReadOnlyAttribute(AttrCurrentHeapHighWatermark, 0, viewPriv))
	}

	return datamodel.MergeAttributeLists(attrs)
}

func (c *Cluster) buildCommandList() []datamodel.CommandEntry {
	if c.config.Data == nil || !c.config.Data.SupportsWatermarks() {
		return nil
	}
	return []datamodel.CommandEntry{
		datamodel.NewCommandEntry(CmdResetWatermarks, 0, datamodel.PrivilegeManage),
	}
}

// AttributeList implements datamodel.Cluster.
func (c *Cluster) AttributeList() []datamodel.AttributeEntry {
	return c.attrList
}

// AcceptedCommandList implements datamodel.Cluster.
func (c *Cluster) AcceptedCommandList() []datamodel.CommandEntry {
	return c.cmdList
}

// GeneratedCommandList implements datamodel.Cluster.
// Software Diagnostics commands produce only a status response.
func (c *Cluster) GeneratedCommandList() []datamodel.CommandID {
	return nil
}

// ReadAttribute implements datamodel.Cluster.
func (c *Cluster) ReadAttribute(ctx context.Context, req datamodel.ReadAttributeRequest, w *tlv.Writer) error {
	handled, err := c.ReadGlobalAttribute(ctx, req.Path.Attribute, w, c.attrList, c.cmdList, nil)
	if handled || err != nil {
		return err
	}

	switch req.Path.Attribute {
	case AttrThreadMetrics:
		return c.readThreadMetrics(w)
	case AttrCurrentHeapFree:
		return c.readUint64IfSupported(w, c.config.Data.CurrentHeapFree)
	case AttrCurrentHeapUsed:
		return c.readUint64IfSupported(w, c.config.Data.CurrentHeapUsed)
	case AttrCurrentHeapHighWatermark:
		if c.config.Data == nil || !c.config.Data.SupportsWatermarks() {
			return datamodel.ErrUnsupportedAttribute
		}
		return c.readUint64IfSupported(w, c.config.Data.CurrentHeapHighWatermark)
	default:
		return datamodel.ErrUnsupportedAttribute
	}
}

// readUint64IfSupported encodes 0 when the platform getter reports the
// value unsupported, mirroring the CHIP_ERROR_UNSUPPORTED_CHIP_FEATURE
// fallback in the C++ diagnostics provider.
func (c *Cluster) readUint64IfSupported(w *tlv.Writer, get func() (uint64, bool)) error {
	if c.config.Data == nil {
		return w.PutUint(tlv.Anonymous(), 0)
	}
	value, ok := get()
	if !ok {
		value = 0
	}
	return w.PutUint(tlv.Anonymous(), value)
}

func (c *Cluster) readThreadMetrics(w *tlv.Writer) error {
	var metrics []ThreadMetrics
	if c.config.Data != nil {
		if m, ok := c.config.Data.ThreadMetrics(); ok {
			metrics = m
		}
	}

	if err := w.StartArray(tlv.Anonymous()); err != nil {
		return err
	}
	for _, m := range metrics {
		if err := encodeThreadMetrics(w, m); err != nil {
			return err
		}
	}
	return w.EndContainer()
}

func encodeThreadMetrics(w *tlv.Writer, m ThreadMetrics) error {
	if err := w.StartStructure(tlv.Anonymous()); err != nil {
		return err
	}
	if err := w.PutUint(tlv.ContextTag(0), m.ID); err != nil {
		return err
	}
	if m.Name != nil {
		if err := w.PutString(tlv.ContextTag(1), *m.Name); err != nil {
			return err
		}
	}
	if m.StackFreeCurrent != nil {
		if err := w.PutUint(tlv.ContextTag(2), uint64(*m.StackFreeCurrent)); err != nil {
			return err
		}
	}
	if m.StackFreeMinimum != nil {
		if err := w.PutUint(tlv.ContextTag(3), uint64(*m.StackFreeMinimum)); err != nil {
			return err
		}
	}
	if m.StackSize != nil {
		if err := w.PutUint(tlv.ContextTag(4), uint64(*m.StackSize)); err != nil {
			return err
		}
	}
	return w.EndContainer()
}

// WriteAttribute implements datamodel.Cluster.
// Software Diagnostics cluster has no writable attributes.
func (c *Cluster) WriteAttribute(ctx context.Context, req datamodel.WriteAttributeRequest, r *tlv.Reader) error {
	return datamodel.ErrUnsupportedWrite
}

// OnSoftwareFault emits a SoftwareFault event for the given fault record.
// Matches CHIP's SoftwareDiagnosticsServer::OnSoftwareFaultDetect.
func (c *Cluster) OnSoftwareFault(fault SoftwareFault) error {
	if !c.EventSource.IsBound() {
		return nil
	}

	type faultPayload struct {
		ID             uint64  `tlv:"0"`
		Name           *string `tlv:"1"`
		FaultRecording []byte  `tlv:"2"`
	}

	_, err := c.EventSource.Emit(EventSoftwareFault, datamodel.EventPriorityCritical, faultPayload{
		ID:             fault.ID,
		Name:           fault.Name,
		FaultRecording: fault.FaultRecording,
	})
	return err
}
