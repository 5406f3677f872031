package vulkan

/** @brief Generic surface extension, required whenever a window is presented to. */
const SurfaceExtensionName = "VK_KHR_surface"

/** @brief Surface extension that works without a window system. */
const HeadlessSurfaceExtensionName = "VK_EXT_headless_surface"

/** @brief Preferred diagnostic extension. */
const DebugUtilsExtensionName = "VK_EXT_debug_utils"

/** @brief Legacy diagnostic extension, used when debug utils is missing. */
const DebugReportExtensionName = "VK_EXT_debug_report"

/**
 * @brief The two device extensions backing dedicated allocations.
 * They are only ever enabled together.
 */
const (
	GetMemoryRequirements2ExtensionName = "VK_KHR_get_memory_requirements2"
	DedicatedAllocationExtensionName    = "VK_KHR_dedicated_allocation"
)

/** @brief Priority assigned to every created queue. */
const DefaultQueuePriority float32 = 1.0

/** @brief API version requested at context creation (1.0.0). */
const DefaultAPIVersion uint32 = 1 << 22
