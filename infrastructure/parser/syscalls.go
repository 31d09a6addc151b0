package parser

import (
	"sort"

	"github.com/reglet-dev/procguard/domain/entities"
)

// TableSize is the number of entries in every compiled table, per
// convention. It covers the highest syscall number in either name table.
const TableSize = entities.DefaultTableSize

// nativeSyscalls names the x86_64 syscalls the policy language accepts.
var nativeSyscalls = map[string]int{
	"read": 0, "write": 1, "open": 2, "close": 3, "stat": 4, "fstat": 5,
	"lstat": 6, "poll": 7, "lseek": 8, "mmap": 9, "mprotect": 10,
	"munmap": 11, "brk": 12, "rt_sigaction": 13, "rt_sigprocmask": 14,
	"rt_sigreturn": 15, "ioctl": 16, "pread64": 17, "pwrite64": 18,
	"readv": 19, "writev": 20, "access": 21, "pipe": 22, "select": 23,
	"sched_yield": 24, "mremap": 25, "msync": 26, "mincore": 27,
	"madvise": 28, "shmget": 29, "shmat": 30, "shmctl": 31, "dup": 32,
	"dup2": 33, "pause": 34, "nanosleep": 35, "getitimer": 36, "alarm": 37,
	"setitimer": 38, "getpid": 39, "sendfile": 40, "socket": 41,
	"connect": 42, "accept": 43, "sendto": 44, "recvfrom": 45,
	"sendmsg": 46, "recvmsg": 47, "shutdown": 48, "bind": 49, "listen": 50,
	"getsockname": 51, "getpeername": 52, "socketpair": 53,
	"setsockopt": 54, "getsockopt": 55, "clone": 56, "fork": 57,
	"vfork": 58, "execve": 59, "exit": 60, "wait4": 61, "kill": 62,
	"uname": 63, "semget": 64, "semop": 65, "semctl": 66, "shmdt": 67,
	"msgget": 68, "msgsnd": 69, "msgrcv": 70, "msgctl": 71, "fcntl": 72,
	"flock": 73, "fsync": 74, "fdatasync": 75, "truncate": 76,
	"ftruncate": 77, "getdents": 78, "getcwd": 79, "chdir": 80,
	"fchdir": 81, "rename": 82, "mkdir": 83, "rmdir": 84, "creat": 85,
	"link": 86, "unlink": 87, "symlink": 88, "readlink": 89, "chmod": 90,
	"fchmod": 91, "chown": 92, "fchown": 93, "lchown": 94, "umask": 95,
	"gettimeofday": 96, "getrlimit": 97, "getrusage": 98, "sysinfo": 99,
	"times": 100, "ptrace": 101, "getuid": 102, "syslog": 103,
	"getgid": 104, "setuid": 105, "setgid": 106, "geteuid": 107,
	"getegid": 108, "setpgid": 109, "getppid": 110, "getpgrp": 111,
	"setsid": 112, "setreuid": 113, "setregid": 114, "getgroups": 115,
	"setgroups": 116, "setresuid": 117, "getresuid": 118,
	"setresgid": 119, "getresgid": 120, "getpgid": 121, "setfsuid": 122,
	"setfsgid": 123, "getsid": 124, "capget": 125, "capset": 126,
	"rt_sigsuspend": 130, "sigaltstack": 131, "mknod": 133,
	"personality": 135, "statfs": 137, "fstatfs": 138, "mlock": 149,
	"munlock": 150, "pivot_root": 155, "prctl": 157, "arch_prctl": 158,
	"chroot": 161, "sync": 162, "acct": 163, "settimeofday": 164,
	"mount": 165, "umount2": 166, "swapon": 167, "swapoff": 168,
	"reboot": 169, "sethostname": 170, "setdomainname": 171, "iopl": 172,
	"ioperm": 173, "init_module": 175, "delete_module": 176,
	"quotactl": 179, "gettid": 186, "setxattr": 188, "getxattr": 191,
	"tkill": 200, "time": 201, "futex": 202, "epoll_create": 213,
	"getdents64": 217, "set_tid_address": 218, "clock_gettime": 228,
	"clock_nanosleep": 230, "exit_group": 231, "epoll_wait": 232,
	"epoll_ctl": 233, "tgkill": 234, "kexec_load": 246, "add_key": 248,
	"request_key": 249, "keyctl": 250, "openat": 257, "mkdirat": 258,
	"newfstatat": 262, "unlinkat": 263, "pselect6": 270, "ppoll": 271,
	"unshare": 272, "set_robust_list": 273, "splice": 275,
	"epoll_pwait": 281, "accept4": 288, "eventfd2": 290,
	"epoll_create1": 291, "dup3": 292, "pipe2": 293, "inotify_init1": 294,
	"perf_event_open": 298, "fanotify_init": 300, "prlimit64": 302,
	"name_to_handle_at": 303, "open_by_handle_at": 304, "setns": 308,
	"process_vm_readv": 310, "process_vm_writev": 311, "kcmp": 312,
	"finit_module": 313, "seccomp": 317, "getrandom": 318,
	"memfd_create": 319, "bpf": 321, "execveat": 322, "userfaultfd": 323,
	"statx": 332, "pidfd_open": 434, "clone3": 435, "close_range": 436,
	"openat2": 437, "pidfd_getfd": 438,
}

// secondarySyscalls names the i386 compat syscalls.
var secondarySyscalls = map[string]int{
	"exit": 1, "fork": 2, "read": 3, "write": 4, "open": 5, "close": 6,
	"waitpid": 7, "creat": 8, "link": 9, "unlink": 10, "execve": 11,
	"chdir": 12, "time": 13, "mknod": 14, "chmod": 15, "lchown": 16,
	"lseek": 19, "getpid": 20, "mount": 21, "umount": 22, "setuid": 23,
	"getuid": 24, "ptrace": 26, "alarm": 27, "pause": 29, "access": 33,
	"sync": 36, "kill": 37, "rename": 38, "mkdir": 39, "rmdir": 40,
	"dup": 41, "pipe": 42, "times": 43, "brk": 45, "setgid": 46,
	"getgid": 47, "geteuid": 49, "getegid": 50, "acct": 51, "umount2": 52,
	"ioctl": 54, "fcntl": 55, "setpgid": 57, "umask": 60, "chroot": 61,
	"dup2": 63, "getppid": 64, "getpgrp": 65, "setsid": 66,
	"sethostname": 74, "setrlimit": 75, "getrusage": 77,
	"gettimeofday": 78, "settimeofday": 79, "symlink": 83, "readlink": 85,
	"swapon": 87, "reboot": 88, "mmap": 90, "munmap": 91, "truncate": 92,
	"ftruncate": 93, "fchmod": 94, "fchown": 95, "socketcall": 102,
	"syslog": 103, "setitimer": 104, "getitimer": 105, "stat": 106,
	"lstat": 107, "fstat": 108, "iopl": 110, "wait4": 114, "swapoff": 115,
	"sysinfo": 116, "ipc": 117, "fsync": 118, "sigreturn": 119,
	"clone": 120, "uname": 122, "mprotect": 125, "init_module": 128,
	"delete_module": 129, "fchdir": 133, "personality": 136,
	"getdents": 141, "flock": 143, "readv": 145, "writev": 146,
	"getsid": 147, "fdatasync": 148, "mlock": 150, "munlock": 151,
	"sched_yield": 158, "nanosleep": 162, "mremap": 163, "poll": 168,
	"prctl": 172, "rt_sigreturn": 173, "rt_sigaction": 174,
	"rt_sigprocmask": 175, "pread64": 180, "pwrite64": 181, "getcwd": 183,
	"capget": 184, "capset": 185, "sigaltstack": 186, "sendfile": 187,
	"vfork": 190, "mmap2": 192, "getuid32": 199, "getdents64": 220,
	"fcntl64": 221, "gettid": 224, "setxattr": 226, "getxattr": 229,
	"tkill": 238, "futex": 240, "set_thread_area": 243, "exit_group": 252,
	"epoll_create": 254, "epoll_ctl": 255, "epoll_wait": 256,
	"set_tid_address": 258, "clock_gettime": 265, "clock_nanosleep": 267,
	"tgkill": 270, "kexec_load": 283, "openat": 295, "mkdirat": 296,
	"unlinkat": 301, "pselect6": 308, "ppoll": 309, "unshare": 310,
	"set_robust_list": 311, "epoll_pwait": 319, "eventfd2": 328,
	"epoll_create1": 329, "dup3": 330, "pipe2": 331,
	"perf_event_open": 336, "prlimit64": 340, "setns": 346,
	"process_vm_readv": 347, "process_vm_writev": 348, "kcmp": 349,
	"finit_module": 350, "seccomp": 354, "getrandom": 355,
	"memfd_create": 356, "bpf": 357, "execveat": 358, "socket": 359,
	"socketpair": 360, "bind": 361, "connect": 362, "listen": 363,
	"accept4": 364, "getsockopt": 365, "setsockopt": 366,
	"getsockname": 367, "getpeername": 368, "sendto": 369, "sendmsg": 370,
	"recvfrom": 371, "recvmsg": 372, "shutdown": 373, "userfaultfd": 374,
	"statx": 383, "pidfd_open": 434, "clone3": 435, "close_range": 436,
	"openat2": 437, "pidfd_getfd": 438,
}

func syscallNames(conv entities.Convention) map[string]int {
	if conv == entities.ConventionSecondary {
		return secondarySyscalls
	}
	return nativeSyscalls
}

// SyscallNumber returns the number of the named syscall in conv.
func SyscallNumber(conv entities.Convention, name string) (int, bool) {
	nr, ok := syscallNames(conv)[name]
	return nr, ok
}

// SyscallName returns the name of syscall nr in conv, if known.
func SyscallName(conv entities.Convention, nr int) (string, bool) {
	for name, n := range syscallNames(conv) {
		if n == nr {
			return name, true
		}
	}
	return "", false
}

// SyscallNames returns every known name in conv, sorted.
func SyscallNames(conv entities.Convention) []string {
	names := make([]string, 0, len(syscallNames(conv)))
	for name := range syscallNames(conv) {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
