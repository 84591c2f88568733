package panel

import "strings"

// Protocol is the family of a live mount. ProtocolUnknown means the record
// is not mounted.
type Protocol int

const (
	ProtocolUnknown Protocol = iota
	ProtocolFile
	ProtocolFTP
	ProtocolHTTP
	ProtocolSamba
	ProtocolSFTP
)

func (p Protocol) String() string {
	switch p {
	case ProtocolFile:
		return "file"
	case ProtocolFTP:
		return "ftp"
	case ProtocolHTTP:
		return "http"
	case ProtocolSamba:
		return "smb"
	case ProtocolSFTP:
		return "sftp"
	default:
		return "unknown"
	}
}

// ProtocolFromScheme maps the URI scheme reported by a mount backend to a
// Protocol. Unrecognised schemes map to ProtocolUnknown.
func ProtocolFromScheme(scheme string) Protocol {
	switch strings.ToLower(scheme) {
	case "file":
		return ProtocolFile
	case "ftp", "ftps":
		return ProtocolFTP
	case "http", "https", "dav", "davs":
		return ProtocolHTTP
	case "smb", "cifs":
		return ProtocolSamba
	case "sftp", "ssh":
		return ProtocolSFTP
	default:
		return ProtocolUnknown
	}
}
