// Package interpose's cgo half: the camera-module ABI mirrors and the
// three exported hooks (open, initialize, process_capture_result) that
// the platform loader and the vendor module call directly by function
// pointer. Everything that can be pure Go (the registry, the copy, the
// ring source) lives in the other files in this package; this file is
// only the unsafe boundary itself.
package interpose

/*
#include <stdlib.h>
#include <stdint.h>
#include <string.h>
#include <dlfcn.h>

#include "camera_hal.h"

static camera_module_t *vendor_module = NULL;

static camera_module_t *load_vendor_module(const char *path) {
    if (vendor_module != NULL) {
        return vendor_module;
    }
    void *handle = dlopen(path, RTLD_NOW);
    if (handle == NULL) {
        return NULL;
    }
    vendor_module = (camera_module_t *)dlsym(handle, "HMI");
    return vendor_module;
}

static int vendor_call_open(camera_module_t *vendor, const char *id, hw_device_t **device) {
    if (vendor == NULL || vendor->common.methods == NULL || vendor->common.methods->open == NULL) {
        return -1;
    }
    return vendor->common.methods->open((hw_module_t *)&vendor->common, id, device);
}

static camera3_device_ops_t *copy_device_ops(const camera3_device_ops_t *orig) {
    camera3_device_ops_t *c = (camera3_device_ops_t *)malloc(sizeof(camera3_device_ops_t));
    memcpy(c, orig, sizeof(camera3_device_ops_t));
    c->initialize = goInitialize;
    return c;
}

static camera3_callback_ops_t *copy_callback_ops(const camera3_callback_ops_t *orig) {
    camera3_callback_ops_t *c = (camera3_callback_ops_t *)malloc(sizeof(camera3_callback_ops_t));
    memcpy(c, orig, sizeof(camera3_callback_ops_t));
    c->process_capture_result = goProcessCaptureResult;
    return c;
}

static int call_initialize(camera3_device_ops_t *ops, camera3_device_t *device, camera3_callback_ops_t *cb) {
    return ops->initialize(device, cb);
}

static void call_process_capture_result(camera3_callback_ops_t *ops, const camera3_capture_result_t *result) {
    ops->process_capture_result(ops, result);
}

static int native_handle_first_fd(buffer_handle_t handle) {
    if (handle == NULL || handle->numFds < 1) {
        return -1;
    }
    return handle->data[0];
}

static int vendor_get_number_of_cameras(camera_module_t *vendor) {
    if (vendor == NULL || vendor->get_number_of_cameras == NULL) {
        return 0;
    }
    return vendor->get_number_of_cameras();
}

static int vendor_get_camera_info(camera_module_t *vendor, int id, camera_info_t *info) {
    if (vendor == NULL || vendor->get_camera_info == NULL) {
        return -1;
    }
    return vendor->get_camera_info(id, info);
}

static int vendor_set_callbacks(camera_module_t *vendor, const void *callbacks) {
    if (vendor == NULL || vendor->set_callbacks == NULL) {
        return -1;
    }
    return vendor->set_callbacks(callbacks);
}

static int vendor_init(camera_module_t *vendor) {
    if (vendor == NULL || vendor->init == NULL) {
        return 0;
    }
    return vendor->init();
}

static int vendor_set_torch_mode(camera_module_t *vendor, const char *id, int enabled) {
    if (vendor == NULL || vendor->set_torch_mode == NULL) {
        return -1;
    }
    return vendor->set_torch_mode(id, enabled);
}
*/
import "C"

import (
	"sync"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/pixel4a/vcam/internal/logger"
	"github.com/pixel4a/vcam/internal/ring"
)

var (
	vendorOnce sync.Once
	vendorMod  *C.camera_module_t
)

func vendorModule() *C.camera_module_t {
	vendorOnce.Do(func() {
		path := C.CString(VendorModulePath)
		defer C.free(unsafe.Pointer(path))
		vendorMod = C.load_vendor_module(path)
		if vendorMod == nil {
			logger.Error("Interpose", "failed to load vendor module at %s", VendorModulePath)
		}
	})
	return vendorMod
}

var ringSource = &RingSource{}

// GetNumberOfCameras is a never-fail pass-through to the vendor module,
// per spec §4.4/§7.3: it returns 0 if the vendor module is not loaded.
func GetNumberOfCameras() int {
	return int(C.vendor_get_number_of_cameras(vendorModule()))
}

// InitVendorModule is a never-fail pass-through to the vendor module's
// own init().
func InitVendorModule() int {
	return int(C.vendor_init(vendorModule()))
}

//export goOpen
func goOpen(module *C.hw_module_t, id *C.char, device **C.hw_device_t) C.int {
	vendor := vendorModule()
	rc := C.vendor_call_open(vendor, id, device)
	if rc != 0 || device == nil || *device == nil {
		return rc
	}

	dev := (*C.camera3_device_t)(unsafe.Pointer(*device))
	if dev.ops == nil {
		return rc
	}

	devID := DeviceID(uintptr(unsafe.Pointer(dev)))
	Global().RecordOriginalOps(devID, uintptr(unsafe.Pointer(dev.ops)))

	wrapped := C.copy_device_ops(dev.ops)
	dev.ops = wrapped

	logger.Info("Interpose", "device opened, ops wrapped")
	return rc
}

//export goInitialize
func goInitialize(device *C.camera3_device_t, callbackOps *C.camera3_callback_ops_t) C.int {
	devID := DeviceID(uintptr(unsafe.Pointer(device)))
	Global().RecordCallbacks(devID, uintptr(unsafe.Pointer(callbackOps)))

	origOpsPtr, ok := Global().OriginalOps(devID)
	if !ok {
		logger.Error("Interpose", "initialize called before open recorded ops")
		return -1
	}
	origOps := (*C.camera3_device_ops_t)(unsafe.Pointer(origOpsPtr))
	if origOps.initialize == nil {
		return -1
	}

	wrapped := C.copy_callback_ops(callbackOps)
	Global().RecordWrappedCallbackOps(uintptr(unsafe.Pointer(wrapped)), devID)

	return C.int(C.call_initialize(origOps, device, wrapped))
}

//export goProcessCaptureResult
func goProcessCaptureResult(ops *C.camera3_callback_ops_t, result *C.camera3_capture_result_t) {
	if activeMetrics != nil {
		activeMetrics.CaptureResultsSeen.Add(1)
	}

	devID, ok := Global().DeviceForWrappedCallbackOps(uintptr(unsafe.Pointer(ops)))
	if !ok {
		return
	}
	origCBPtr, ok := Global().Callbacks(devID)
	if !ok {
		return
	}
	origCB := (*C.camera3_callback_ops_t)(unsafe.Pointer(origCBPtr))

	injected := false
	if InjectionEnabled() {
		if seg, err := ringSource.EnsureMapped(); err != nil {
			logger.Warn("Interpose", "ring not mapped: %v", err)
		} else {
			now := time.Now()
			if ShouldInject(seg, now) {
				injectCaptureResult(seg, result)
				injected = true
			} else if activeMetrics != nil {
				activeMetrics.CaptureResultsStale.Add(1)
			}
		}
	}
	if !injected && activeMetrics != nil {
		activeMetrics.CaptureResultsPassedThrough.Add(1)
	}

	if origCB.process_capture_result != nil {
		C.call_process_capture_result(origCB, result)
	}
}

func injectCaptureResult(seg *ring.Segment, result *C.camera3_capture_result_t) {
	n := int(result.num_output_buffers)
	if n == 0 || result.output_buffers == nil {
		return
	}
	buffers := unsafe.Slice(result.output_buffers, n)
	src := seg.SlotBytes(seg.WriteIndex())
	anyInjected := false

	for i := 0; i < n; i++ {
		buf := buffers[i]
		if buf.status != C.CAMERA3_BUFFER_STATUS_OK || buf.buffer == nil {
			continue
		}
		if mapAndInject(*buf.buffer, src) {
			anyInjected = true
		}
	}
	if anyInjected && activeMetrics != nil {
		activeMetrics.CaptureResultsInjected.Add(1)
	}
}

// mapAndInject maps the first FD of handle read-write for
// DeviceStride*height*3/2 bytes, copies the source frame into it via
// the stride-aware copy, and unmaps it before returning, per spec §4.4
// step 4. A failed mmap is operational-transient: the result is left
// unmodified and counted.
func mapAndInject(handle C.buffer_handle_t, src []byte) bool {
	fd := int(C.native_handle_first_fd(handle))
	if fd < 0 {
		return false
	}

	length := DeviceStride * ring.Height * 3 / 2
	dst, err := unix.Mmap(fd, 0, length, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		if activeMetrics != nil {
			activeMetrics.ForeignMmapFailures.Add(1)
		}
		logger.Warn("Interpose", "mmap output buffer fd %d failed: %v", fd, err)
		return false
	}
	defer unix.Munmap(dst)

	InjectNV21(dst, DeviceStride, src)
	return true
}
