// SPDX-License-Identifier: MPL-2.0

package platform

// Values of os.name on the supported target platforms.
const (
	Posix = "posix"
	NT    = "nt"
)

// Windows is the runtime.GOOS of the only host whose interpreter reports NT.
const Windows = "windows"

// OSName returns the os.name reported by an interpreter built for goos.
func OSName(goos string) string {
	if goos == Windows {
		return NT
	}
	return Posix
}

// ExtensionSuffixes returns the file suffixes of native extension modules on
// the target whose os.name is osName, in lookup order.
func ExtensionSuffixes(osName string) []string {
	if osName == NT {
		return []string{".pyd"}
	}
	return []string{".abi3.so", ".so"}
}
