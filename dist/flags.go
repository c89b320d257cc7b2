package dist

import (
	"strings"
)

// Flag is a single capability bit a node advertises during the handshake.
type Flag uint32

// Flags is a capability bitset.
type Flags uint32

// distribution flags are defined here https://erlang.org/doc/apps/erts/erl_dist_protocol.html#distribution-flags
const (
	FlagPublished          Flag = 0x1
	FlagAtomCache          Flag = 0x2
	FlagExtendedReferences Flag = 0x4
	FlagDistMonitor        Flag = 0x8
	FlagFunTags            Flag = 0x10
	FlagDistMonitorName    Flag = 0x20
	FlagHiddenAtomCache    Flag = 0x40
	FlagNewFunTags         Flag = 0x80
	FlagExtendedPidsPorts  Flag = 0x100
	FlagExportPtrTag       Flag = 0x200
	FlagBitBinaries        Flag = 0x400
	FlagNewFloats          Flag = 0x800
	FlagUnicodeIO          Flag = 0x1000
	FlagDistHdrAtomCache   Flag = 0x2000
	FlagSmallAtomTags      Flag = 0x4000
	FlagUTF8Atoms          Flag = 0x10000
	FlagMapTag             Flag = 0x20000
	FlagBigCreation        Flag = 0x40000
	FlagSendSender         Flag = 0x80000 // since OTP.21
	FlagBigSeqTraceLabels  Flag = 0x100000
	FlagExitPayload        Flag = 0x400000 // since OTP.22
	FlagFragments          Flag = 0x800000
)

// DefaultFlags is the capability set advertised unless configured otherwise.
// The 16-bit flags field of the handshake messages carries its lower half only.
var DefaultFlags = ComposeFlags(
	FlagExtendedReferences,
	FlagNewFunTags,
	FlagExtendedPidsPorts,
	FlagExportPtrTag,
	FlagBitBinaries,
	FlagNewFloats,
	FlagUnicodeIO,
	FlagSmallAtomTags,
	FlagUTF8Atoms,
)

var flagNames = []struct {
	flag Flag
	name string
}{
	{FlagPublished, "published"},
	{FlagAtomCache, "atom_cache"},
	{FlagExtendedReferences, "extended_references"},
	{FlagDistMonitor, "dist_monitor"},
	{FlagFunTags, "fun_tags"},
	{FlagDistMonitorName, "dist_monitor_name"},
	{FlagHiddenAtomCache, "hidden_atom_cache"},
	{FlagNewFunTags, "new_fun_tags"},
	{FlagExtendedPidsPorts, "extended_pids_ports"},
	{FlagExportPtrTag, "export_ptr_tag"},
	{FlagBitBinaries, "bit_binaries"},
	{FlagNewFloats, "new_floats"},
	{FlagUnicodeIO, "unicode_io"},
	{FlagDistHdrAtomCache, "dist_hdr_atom_cache"},
	{FlagSmallAtomTags, "small_atom_tags"},
	{FlagUTF8Atoms, "utf8_atoms"},
	{FlagMapTag, "map_tag"},
	{FlagBigCreation, "big_creation"},
	{FlagSendSender, "send_sender"},
	{FlagBigSeqTraceLabels, "big_seq_trace_labels"},
	{FlagExitPayload, "exit_payload"},
	{FlagFragments, "fragments"},
}

// ComposeFlags
func ComposeFlags(f ...Flag) Flags {
	var flags uint32
	for _, v := range f {
		flags |= uint32(v)
	}
	return Flags(flags)
}

// IsSet
func (nf Flags) IsSet(f Flag) bool {
	return (uint32(nf) & uint32(f)) != 0
}

// String returns the names of the known bits separated by '|'.
func (nf Flags) String() string {
	var names []string
	for _, fn := range flagNames {
		if nf.IsSet(fn.flag) {
			names = append(names, fn.name)
		}
	}
	return strings.Join(names, "|")
}
