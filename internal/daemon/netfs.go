package daemon

// NetFSServer is the host side of an export: it accepts NFS or SMB clients
// and dispatches their requests onto a FaultFS.
type NetFSServer interface {
	// Serve listens on addr (e.g. "127.0.0.1:12345") and blocks until Shutdown.
	Serve(addr string) error

	// Shutdown stops accepting clients and cancels in-flight requests.
	Shutdown()
}

// NetFSType reports which server this binary was built with: "nfs" by
// default, "smb" with -tags smb.
func NetFSType() string {
	return netFSTypeName
}

var netFSTypeName string
