package monitor

// dashboardHTML is the debug chart index. Interpolations: dataset id
// (title), query string (iframe links). Both are pre-escaped by the
// handler.
const dashboardHTML = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>aforo debug charts %s</title>
<style>
body { background: #111; color: #ddd; font-family: sans-serif; margin: 1em; }
iframe { border: 1px solid #333; background: #181818; margin-bottom: 1em; }
a { color: #6ece58; }
</style>
</head>
<body>
<h2>aforo debug charts</h2>
<p>
<a href="/debug/charts/trajectories%[2]s">trajectories</a> |
<a href="/debug/charts/counts%[2]s">counts</a>
</p>
<iframe src="/debug/charts/trajectories%[2]s" width="940" height="960"></iframe>
<iframe src="/debug/charts/counts%[2]s" width="940" height="760"></iframe>
</body>
</html>
`
