package report

// runReportTemplate is the standalone HTML document for one run.
const runReportTemplate = `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>{{.TestName}} | {{.Status}}</title>
    <script src="https://cdn.tailwindcss.com"></script>
    <style>
        .status-passed { color: #10b981; }
        .status-failed { color: #ef4444; }
        .status-healed { color: #f59e0b; }
        .bg-status-passed { background-color: #d1fae5; border-color: #10b981; }
        .bg-status-failed { background-color: #fee2e2; border-color: #ef4444; }
        .bg-status-healed { background-color: #fef3c7; border-color: #f59e0b; }
        .badge { display: inline-block; padding: 2px 10px; border-radius: 9999px; font-size: 12px; font-weight: 600; }
        .badge-passed { background-color: #d1fae5; color: #065f46; }
        .badge-failed { background-color: #fee2e2; color: #991b1b; }
        .badge-healed { background-color: #fef3c7; color: #92400e; }
        .badge-skipped { background-color: #e5e7eb; color: #374151; }
    </style>
</head>
<body class="bg-gray-50 min-h-screen">
    <header class="bg-white shadow-sm border-b">
        <div class="max-w-5xl mx-auto px-4 py-4">
            <h1 class="text-xl font-bold text-gray-900">{{.TestName}}</h1>
            <p class="text-sm text-gray-500">Run {{.RunID}} &middot; {{.GeneratedAt.Format "Jan 2, 2006 15:04 MST"}}</p>
            {{if .Feature}}<p class="text-sm text-gray-600 mt-1">{{.Feature}}</p>{{end}}
        </div>
    </header>

    <main class="max-w-5xl mx-auto px-4 py-6 space-y-6">
        <div class="bg-status-{{statusKey .Status}} border-l-4 rounded-xl p-6">
            <h2 class="text-2xl font-bold status-{{statusKey .Status}}">
                {{if eq (statusKey .Status) "passed"}}&#10003; Run Passed{{else if eq (statusKey .Status) "healed"}}&#9888; Passed with Healing{{else}}&#10007; Run Failed{{end}}
            </h2>
            {{if .Message}}<p class="text-gray-700 mt-1">{{.Message}}</p>{{end}}
        </div>

        <div class="grid grid-cols-2 md:grid-cols-5 gap-4">
            <div class="bg-white rounded-xl shadow p-5">
                <p class="text-sm text-gray-500">Executed</p>
                <p class="text-3xl font-bold">{{.StepsExecuted}}{{if .StepsTotal}}<span class="text-base text-gray-400">/{{.StepsTotal}}</span>{{end}}</p>
            </div>
            <div class="bg-white rounded-xl shadow p-5">
                <p class="text-sm text-gray-500">Passed</p>
                <p class="text-3xl font-bold status-passed">{{.Passed}}</p>
            </div>
            <div class="bg-white rounded-xl shadow p-5">
                <p class="text-sm text-gray-500">Healed</p>
                <p class="text-3xl font-bold status-healed">{{.Healed}}</p>
            </div>
            <div class="bg-white rounded-xl shadow p-5">
                <p class="text-sm text-gray-500">Failed</p>
                <p class="text-3xl font-bold status-failed">{{.Failed}}</p>
            </div>
            <div class="bg-white rounded-xl shadow p-5">
                <p class="text-sm text-gray-500">Duration</p>
                <p class="text-3xl font-bold">{{.Duration}}</p>
            </div>
        </div>

        <div class="bg-white rounded-xl shadow overflow-hidden">
            <h3 class="px-5 py-3 font-semibold text-gray-900 border-b">Steps</h3>
            <table class="w-full text-sm">
                <thead class="bg-gray-50 text-left text-gray-500">
                    <tr>
                        <th class="px-5 py-2">#</th>
                        <th class="px-5 py-2">Action</th>
                        <th class="px-5 py-2">Description</th>
                        <th class="px-5 py-2">Selector</th>
                        <th class="px-5 py-2">Status</th>
                        <th class="px-5 py-2 text-right">Time</th>
                    </tr>
                </thead>
                <tbody class="divide-y">
                    {{range .Steps}}
                    <tr>
                        <td class="px-5 py-2 text-gray-500">{{.StepID}}</td>
                        <td class="px-5 py-2 font-mono text-xs">{{.Action}}</td>
                        <td class="px-5 py-2">{{.Description}}{{if .Reason}}<p class="text-xs text-red-600 mt-1">{{.Reason}}</p>{{end}}</td>
                        <td class="px-5 py-2 font-mono text-xs text-gray-600">{{.Selector}}</td>
                        <td class="px-5 py-2"><span class="badge badge-{{statusKey .Status}}">{{.Status}}</span></td>
                        <td class="px-5 py-2 text-right text-gray-500">{{ms .DurationMS}}</td>
                    </tr>
                    {{end}}
                </tbody>
            </table>
        </div>

        {{if .HealedSteps}}
        <div class="bg-white rounded-xl shadow p-5">
            <h3 class="font-semibold text-gray-900 mb-3">Healed Selectors</h3>
            <p class="text-sm text-gray-500 mb-3">{{.HealingAttempts}} healing attempt(s); re-record the test to make these permanent.</p>
            <ul class="space-y-2 text-sm">
                {{range .HealedSteps}}
                <li>
                    <span class="text-gray-500">Step {{.StepID}}</span> {{.Description}}<br>
                    <code class="text-red-600 line-through">{{.RecordedSelector}}</code>
                    &rarr;
                    <code class="text-green-700">{{.HealedSelector}}</code>
                </li>
                {{end}}
            </ul>
        </div>
        {{end}}

        {{if .VisualChecks}}
        <div class="bg-white rounded-xl shadow p-5">
            <h3 class="font-semibold text-gray-900 mb-3">Visual Checks</h3>
            <ul class="space-y-2 text-sm">
                {{range .VisualChecks}}
                <li>
                    <span class="text-gray-500">Step {{.StepID}}</span>
                    <code>{{.BaselineID}}</code>
                    <span class="badge badge-{{statusKey .Status}}">{{.Status}}</span>
                    <span class="text-gray-500">diff {{printf "%.2f%%" (pct .DiffRatio)}} (threshold {{printf "%.2f%%" (pct .Threshold)}})</span>
                    {{if .Overridden}}<p class="text-xs text-gray-600 mt-1">Judge override: {{.Reasoning}}</p>{{end}}
                </li>
                {{end}}
            </ul>
        </div>
        {{end}}

        {{if .FailureScreenshot}}
        <div class="bg-white rounded-xl shadow p-5">
            <h3 class="font-semibold text-gray-900 mb-3">Failure Evidence</h3>
            <p class="text-sm text-gray-600">Screenshot: <code>{{.FailureScreenshot}}</code></p>
            {{if .ConsoleTail}}
            <div class="mt-3 bg-gray-900 text-gray-100 rounded-lg p-4 font-mono text-xs space-y-1">
                {{range .ConsoleTail}}
                <p><span class="text-amber-400">[{{.Level}}]</span> {{.Text}}</p>
                {{end}}
            </div>
            {{end}}
        </div>
        {{end}}
    </main>
</body>
</html>
`
